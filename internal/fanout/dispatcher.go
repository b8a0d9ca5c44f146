// Package fanout delivers one stored upload to many aggregator accounts.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abduss/reelrelay/internal/aggregator"
	"github.com/abduss/reelrelay/internal/logger"
	"github.com/abduss/reelrelay/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status is the outcome of one delivery attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result describes the delivery to a single account.
type Result struct {
	AccountID   string `json:"accountId"`
	AccountName string `json:"accountName"`
	AccountType string `json:"accountType"`
	Status      Status `json:"status"`
	Error       string `json:"error,omitempty"`
	ScheduleID  string `json:"scheduleId,omitempty"`
}

// Upload is what the dispatcher needs to know about the stored object.
type Upload struct {
	Key         string
	Title       string
	Description string
}

// Options tune a Dispatcher.
type Options struct {
	VideoPlatform string
	Concurrency   int
	LeadTime      time.Duration
}

type scheduler interface {
	CreateSchedule(ctx context.Context, apiKey string, payload aggregator.SchedulePayload) (aggregator.ScheduleResult, error)
}

type urlBuilder interface {
	URL(key string) string
}

// Dispatcher issues one schedule request per account. Attempts are independent:
// a failure is recorded in that account's Result and never cancels or retries others.
type Dispatcher struct {
	scheduler     scheduler
	urls          urlBuilder
	videoPlatform string
	concurrency   int
	leadTime      time.Duration
	nowFunc       func() time.Time
	log           *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(s scheduler, urls urlBuilder, opts Options, log *zap.Logger) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Dispatcher{
		scheduler:     s,
		urls:          urls,
		videoPlatform: strings.ToLower(opts.VideoPlatform),
		concurrency:   opts.Concurrency,
		leadTime:      opts.LeadTime,
		nowFunc:       time.Now,
		log:           logger.OrNop(log).Named("fanout"),
	}
}

// Dispatch attempts every account and returns one Result per account, in input order.
func (d *Dispatcher) Dispatch(ctx context.Context, apiKey string, up Upload, accounts []aggregator.Account) []Result {
	results := make([]Result, len(accounts))
	mediaURL := d.urls.URL(up.Key)
	publishAt := d.nowFunc().UTC().Add(d.leadTime)

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, acc := range accounts {
		i, acc := i, acc
		g.Go(func() error {
			results[i] = d.deliver(ctx, apiKey, acc, d.payload(acc, up, mediaURL, publishAt))
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// PostType returns the schedule type for a platform. One configured platform
// ingests uploads as video posts and every other platform takes them as image posts.
func (d *Dispatcher) PostType(platform string) string {
	if strings.EqualFold(platform, d.videoPlatform) {
		return aggregator.PostTypeVideo
	}
	return aggregator.PostTypeImage
}

func (d *Dispatcher) payload(acc aggregator.Account, up Upload, mediaURL string, publishAt time.Time) aggregator.SchedulePayload {
	return aggregator.SchedulePayload{
		AccountID:   acc.ID,
		Type:        d.PostType(acc.Type),
		MediaURLs:   []string{mediaURL},
		Title:       up.Title,
		Description: up.Description,
		PublishAt:   publishAt,
	}
}

func (d *Dispatcher) deliver(ctx context.Context, apiKey string, acc aggregator.Account, payload aggregator.SchedulePayload) (res Result) {
	res = Result{
		AccountID:   acc.ID,
		AccountName: acc.Name,
		AccountType: acc.Type,
	}
	defer func() {
		if r := recover(); r != nil {
			res.Status, res.Error, res.ScheduleID = StatusError, fmt.Sprintf("internal error: %v", r), ""
		}
		metrics.ObserveDelivery(acc.Type, string(res.Status))
		if res.Status == StatusError {
			d.log.Warn("delivery failed",
				zap.String("account_id", acc.ID),
				zap.String("platform", acc.Type),
				zap.String("error", res.Error),
			)
		}
	}()

	scheduled, err := d.scheduler.CreateSchedule(ctx, apiKey, payload)
	if err != nil {
		res.Status = StatusError
		res.Error = deliveryMessage(err)
		return res
	}
	res.Status = StatusSuccess
	res.ScheduleID = scheduled.ID
	return res
}

func deliveryMessage(err error) string {
	if errors.Is(err, aggregator.ErrUnauthorized) {
		return "Invalid credentials"
	}
	var apiErr *aggregator.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// Succeeded counts successful results.
func Succeeded(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Status == StatusSuccess {
			n++
		}
	}
	return n
}
