// Package relay runs the upload pipeline: validate, quota, store, commit,
// resolve targets and fan out.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/abduss/reelrelay/internal/aggregator"
	"github.com/abduss/reelrelay/internal/credentials"
	"github.com/abduss/reelrelay/internal/fanout"
	"github.com/abduss/reelrelay/internal/lifecycle"
	"github.com/abduss/reelrelay/internal/logger"
	"github.com/abduss/reelrelay/internal/metrics"
	"github.com/abduss/reelrelay/internal/quota"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type quotaLedger interface {
	Check(ctx context.Context, userID uuid.UUID, incomingBytes int64) (quota.Decision, error)
	Increment(ctx context.Context, userID uuid.UUID, bytes int64) error
	Decrement(ctx context.Context, userID uuid.UUID, bytes int64) error
}

type lifecycleStore interface {
	RecordUpload(ctx context.Context, in lifecycle.NewUpload) (lifecycle.Record, error)
	Lookup(ctx context.Context, filename string) (lifecycle.Record, error)
	Pending(ctx context.Context, userID uuid.UUID) ([]lifecycle.Record, error)
	DeleteUpload(ctx context.Context, filename string) error
	Sweep(ctx context.Context) (lifecycle.SweepResult, error)
}

type objectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
}

type accountLister interface {
	ListAccounts(ctx context.Context, apiKey string) ([]aggregator.Account, error)
}

type dispatcher interface {
	Dispatch(ctx context.Context, apiKey string, up fanout.Upload, accounts []aggregator.Account) []fanout.Result
}

type keySource interface {
	APIKey(ctx context.Context, userID uuid.UUID) (string, error)
}

type urlBuilder interface {
	URL(key string) string
}

// Deps groups the collaborators of an Orchestrator.
type Deps struct {
	Quota       quotaLedger
	Lifecycle   lifecycleStore
	Objects     objectStore
	Accounts    accountLister
	Dispatcher  dispatcher
	Credentials keySource
	URLs        urlBuilder
}

// Orchestrator drives one upload through every step in order and compensates
// when a later step fails.
type Orchestrator struct {
	quota       quotaLedger
	lifecycle   lifecycleStore
	objects     objectStore
	accounts    accountLister
	dispatcher  dispatcher
	credentials keySource
	urls        urlBuilder
	opts        Options
	allowed     map[string]struct{}
	newID       func() uuid.UUID
	log         *zap.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(deps Deps, opts Options, log *zap.Logger) *Orchestrator {
	allowed := make(map[string]struct{}, len(opts.AllowedMediaTypes))
	for _, mt := range opts.AllowedMediaTypes {
		allowed[strings.ToLower(strings.TrimSpace(mt))] = struct{}{}
	}
	return &Orchestrator{
		quota:       deps.Quota,
		lifecycle:   deps.Lifecycle,
		objects:     deps.Objects,
		accounts:    deps.Accounts,
		dispatcher:  deps.Dispatcher,
		credentials: deps.Credentials,
		urls:        deps.URLs,
		opts:        opts,
		allowed:     allowed,
		newID:       uuid.New,
		log:         logger.OrNop(log).Named("relay"),
	}
}

// pipeline tracks which side effects of one upload have landed.
type pipeline struct {
	userID         uuid.UUID
	key            string
	size           int64
	objectStored   bool
	quotaCommitted bool
	recordCreated  bool
}

// Upload runs the full pipeline for req. A panic after the object key is chosen
// rolls back whatever was committed and is returned as an error.
func (o *Orchestrator) Upload(ctx context.Context, req UploadRequest) (result UploadResult, err error) {
	log := o.log.With(zap.String("user_id", req.UserID.String()))

	contentType, err := o.validate(req)
	if err != nil {
		metrics.ObserveUpload(outcomeInvalid)
		return UploadResult{}, err
	}

	apiKey, err := o.credentials.APIKey(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, credentials.ErrNotConfigured) {
			metrics.ObserveUpload(outcomeInvalid)
			return UploadResult{}, &ValidationError{Field: "credentials", Message: "aggregator credentials not configured"}
		}
		metrics.ObserveUpload(outcomeInternal)
		return UploadResult{}, fmt.Errorf("load credentials: %w", err)
	}

	decision, err := o.quota.Check(ctx, req.UserID, req.Size)
	if err != nil {
		metrics.ObserveUpload(outcomeInternal)
		return UploadResult{}, fmt.Errorf("check quota: %w", err)
	}
	if !decision.Allowed {
		metrics.ObserveQuotaDenial(string(decision.Reason))
		metrics.ObserveUpload(outcomeQuotaExceeded)
		return UploadResult{}, &QuotaExceededError{Decision: decision}
	}

	p := &pipeline{userID: req.UserID, key: o.objectKey(req), size: req.Size}
	log = log.With(zap.String("filename", p.key))

	defer func() {
		if r := recover(); r != nil {
			log.Error("upload pipeline panicked", zap.Any("panic", r), zap.Stack("stack"))
			o.rollback(ctx, p, log)
			metrics.ObserveUpload(outcomeInternal)
			result, err = UploadResult{}, fmt.Errorf("upload %s: internal error", p.key)
		}
	}()

	if err := o.objects.Put(ctx, p.key, req.Body, req.Size, contentType); err != nil {
		log.Warn("object write failed", zap.Error(err))
		metrics.ObserveUpload(outcomeStorageError)
		return UploadResult{}, &StorageWriteError{Err: err}
	}
	p.objectStored = true

	// Once the bytes are stored the upload runs to completion even if the client goes away.
	ctx = context.WithoutCancel(ctx)

	if err := o.commit(ctx, p, req, contentType); err != nil {
		log.Error("accounting failed", zap.Error(err))
		acctErr := &AccountingError{Stage: stageOf(p), Err: err}
		acctErr.Compensated = o.rollback(ctx, p, log)
		metrics.ObserveUpload(outcomeAccountingErr)
		return UploadResult{}, acctErr
	}

	targets, err := o.resolveTargets(ctx, apiKey, req.Platforms)
	if err != nil {
		log.Warn("target resolution failed, rolling back", zap.Error(err))
		o.rollback(ctx, p, log)
		metrics.ObserveUpload(outcomeNoTargets)
		return UploadResult{}, err
	}

	results := o.dispatcher.Dispatch(ctx, apiKey, fanout.Upload{
		Key:         p.key,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
	}, targets)

	succeeded := fanout.Succeeded(results)
	if succeeded == 0 {
		log.Warn("every target failed, keeping upload", zap.Int("targets", len(results)))
		metrics.ObserveUpload(outcomeDeliveryFailed)
		return UploadResult{}, &DeliveryFailedError{Filename: p.key, Results: results}
	}

	log.Info("upload delivered", zap.Int("succeeded", succeeded), zap.Int("targets", len(results)))
	metrics.ObserveUpload(outcomeSuccess)
	return UploadResult{
		Filename: p.key,
		MediaURL: o.urls.URL(p.key),
		Message:  fmt.Sprintf("Scheduled on %d of %d accounts", succeeded, len(results)),
		Results:  results,
	}, nil
}

func (o *Orchestrator) validate(req UploadRequest) (string, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return "", &ValidationError{Field: "title", Message: "is required"}
	}
	if o.opts.MaxTitleLength > 0 && utf8.RuneCountInString(title) > o.opts.MaxTitleLength {
		return "", &ValidationError{Field: "title", Message: fmt.Sprintf("must be at most %d characters", o.opts.MaxTitleLength)}
	}
	if o.opts.MaxDescriptionLength > 0 && utf8.RuneCountInString(strings.TrimSpace(req.Description)) > o.opts.MaxDescriptionLength {
		return "", &ValidationError{Field: "description", Message: fmt.Sprintf("must be at most %d characters", o.opts.MaxDescriptionLength)}
	}
	if req.Body == nil || req.Size <= 0 {
		return "", &ValidationError{Field: "file", Message: "is required"}
	}
	if o.opts.MaxFileBytes > 0 && req.Size > o.opts.MaxFileBytes {
		return "", &ValidationError{Field: "file", Message: fmt.Sprintf("exceeds the %d byte limit", o.opts.MaxFileBytes)}
	}

	mediaType, _, err := mime.ParseMediaType(req.ContentType)
	if err != nil {
		return "", &ValidationError{Field: "file", Message: "content type is missing or malformed"}
	}
	mediaType = strings.ToLower(mediaType)
	if _, ok := o.allowed[mediaType]; !ok {
		return "", &ValidationError{Field: "file", Message: fmt.Sprintf("media type %q is not accepted", mediaType)}
	}
	return mediaType, nil
}

// objectKey is "<user>/<random id><ext>"; the original name contributes only its extension.
func (o *Orchestrator) objectKey(req UploadRequest) string {
	return fmt.Sprintf("%s/%s%s", req.UserID, o.newID(), cleanExt(req.OriginalName))
}

func cleanExt(name string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/")))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func (o *Orchestrator) commit(ctx context.Context, p *pipeline, req UploadRequest, contentType string) error {
	if err := o.quota.Increment(ctx, p.userID, p.size); err != nil {
		return fmt.Errorf("increment quota: %w", err)
	}
	p.quotaCommitted = true

	if _, err := o.lifecycle.RecordUpload(ctx, lifecycle.NewUpload{
		UserID:        p.userID,
		Filename:      p.key,
		FileSizeBytes: p.size,
		MimeType:      contentType,
		Title:         strings.TrimSpace(req.Title),
		Description:   strings.TrimSpace(req.Description),
	}); err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	p.recordCreated = true
	return nil
}

func stageOf(p *pipeline) string {
	if p.quotaCommitted {
		return "record"
	}
	return "increment"
}

func (o *Orchestrator) resolveTargets(ctx context.Context, apiKey string, platforms []string) ([]aggregator.Account, error) {
	accounts, err := o.accounts.ListAccounts(ctx, apiKey)
	if err != nil {
		if errors.Is(err, aggregator.ErrUnauthorized) {
			return nil, &TargetResolutionError{Failure: Unauthorized, Err: err}
		}
		return nil, &TargetResolutionError{Failure: Upstream, Err: err}
	}

	targets := filterPlatforms(accounts, platforms)
	if len(targets) == 0 {
		return nil, &TargetResolutionError{Failure: NoAccounts}
	}
	return targets, nil
}

func filterPlatforms(accounts []aggregator.Account, platforms []string) []aggregator.Account {
	if len(platforms) == 0 {
		return accounts
	}
	out := make([]aggregator.Account, 0, len(accounts))
	for _, acc := range accounts {
		for _, p := range platforms {
			if strings.EqualFold(acc.Type, p) {
				out = append(out, acc)
				break
			}
		}
	}
	return out
}

// rollback reverses the committed side effects of p. It reports whether every
// compensation succeeded; failures are logged for manual reconciliation.
func (o *Orchestrator) rollback(ctx context.Context, p *pipeline, log *zap.Logger) bool {
	ctx = context.WithoutCancel(ctx)
	ok := true

	if p.objectStored {
		var err error
		if p.recordCreated {
			err = o.lifecycle.DeleteUpload(ctx, p.key)
		} else {
			err = o.objects.Delete(ctx, p.key)
		}
		if err != nil {
			ok = false
			log.Error("rollback: object delete failed", zap.Error(err), zap.Bool("reconcile", true))
		} else {
			p.objectStored, p.recordCreated = false, false
		}
	}

	if p.quotaCommitted {
		if err := o.quota.Decrement(ctx, p.userID, p.size); err != nil {
			ok = false
			log.Error("rollback: quota decrement failed", zap.Error(err), zap.Int64("bytes", p.size), zap.Bool("reconcile", true))
		} else {
			p.quotaCommitted = false
		}
	}
	return ok
}

// Quota returns the caller's current usage and limits after any window reset.
func (o *Orchestrator) Quota(ctx context.Context, userID uuid.UUID) (quota.Decision, error) {
	return o.quota.Check(ctx, userID, 0)
}

// Pending lists the caller's uploads still awaiting deletion.
func (o *Orchestrator) Pending(ctx context.Context, userID uuid.UUID) ([]lifecycle.Record, error) {
	return o.lifecycle.Pending(ctx, userID)
}

// DeleteUpload removes one of the caller's uploads ahead of its deadline. Quota is not refunded.
func (o *Orchestrator) DeleteUpload(ctx context.Context, userID uuid.UUID, filename string) error {
	rec, err := o.lifecycle.Lookup(ctx, filename)
	if err != nil {
		if errors.Is(err, lifecycle.ErrUploadNotFound) {
			return ErrUploadNotFound
		}
		return err
	}
	if rec.UserID != userID {
		return ErrUploadNotFound
	}
	return o.lifecycle.DeleteUpload(ctx, filename)
}

// Accounts lists the caller's connected aggregator accounts.
func (o *Orchestrator) Accounts(ctx context.Context, userID uuid.UUID) ([]aggregator.Account, error) {
	apiKey, err := o.credentials.APIKey(ctx, userID)
	if err != nil {
		return nil, err
	}
	return o.accounts.ListAccounts(ctx, apiKey)
}

// Cleanup runs one reaper sweep on demand.
func (o *Orchestrator) Cleanup(ctx context.Context) (lifecycle.SweepResult, error) {
	return o.lifecycle.Sweep(ctx)
}
