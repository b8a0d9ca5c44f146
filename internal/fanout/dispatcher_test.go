package fanout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abduss/reelrelay/internal/aggregator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticURLs struct{}

func (staticURLs) URL(key string) string { return "https://cdn.example.com/" + key }

func accounts(specs ...[2]string) []aggregator.Account {
	out := make([]aggregator.Account, 0, len(specs))
	for _, s := range specs {
		out = append(out, aggregator.Account{ID: s[0], Name: s[0] + "-name", Type: s[1], Status: aggregator.StatusConnected})
	}
	return out
}

func TestDispatchIsolatesFailures(t *testing.T) {
	sched := &fakeScheduler{
		errs: map[string]error{"acc-2": errors.New("timeout talking to platform")},
	}
	d := NewDispatcher(sched, staticURLs{}, Options{VideoPlatform: "youtube", Concurrency: 1}, nil)

	results := d.Dispatch(context.Background(), "key", Upload{Key: "u/1.mp4", Title: "t"},
		accounts([2]string{"acc-1", "youtube"}, [2]string{"acc-2", "tiktok"}, [2]string{"acc-3", "instagram"}))

	require.Len(t, results, 3)
	assert.Equal(t, StatusSuccess, results[0].Status)
	assert.Equal(t, StatusError, results[1].Status)
	assert.Equal(t, "timeout talking to platform", results[1].Error)
	assert.Equal(t, StatusSuccess, results[2].Status)
	assert.Equal(t, 1, sched.callsFor("acc-2"), "failed account must not be retried")
	assert.Equal(t, 1, sched.callsFor("acc-3"), "later accounts must still be attempted")
	assert.Equal(t, 2, Succeeded(results))
}

func TestDispatchReportsInvalidCredentials(t *testing.T) {
	sched := &fakeScheduler{
		errs: map[string]error{"B": &aggregator.APIError{StatusCode: 401, Message: "nope"}},
	}
	d := NewDispatcher(sched, staticURLs{}, Options{VideoPlatform: "youtube", Concurrency: 4}, nil)

	results := d.Dispatch(context.Background(), "key", Upload{Key: "k"},
		accounts([2]string{"A", "youtube"}, [2]string{"B", "facebook"}))

	assert.Equal(t, []Result{
		{AccountID: "A", AccountName: "A-name", AccountType: "youtube", Status: StatusSuccess, ScheduleID: "sched-A"},
		{AccountID: "B", AccountName: "B-name", AccountType: "facebook", Status: StatusError, Error: "Invalid credentials"},
	}, results)
}

func TestDispatchChoosesPostTypePerPlatform(t *testing.T) {
	sched := &fakeScheduler{}
	d := NewDispatcher(sched, staticURLs{}, Options{VideoPlatform: "YouTube", Concurrency: 2, LeadTime: time.Minute}, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.nowFunc = func() time.Time { return now }

	d.Dispatch(context.Background(), "key", Upload{Key: "u/clip.mp4", Title: "t", Description: "d"},
		accounts([2]string{"yt", "youtube"}, [2]string{"ig", "instagram"}))

	yt := sched.payloadFor("yt")
	ig := sched.payloadFor("ig")
	assert.Equal(t, aggregator.PostTypeVideo, yt.Type)
	assert.Equal(t, aggregator.PostTypeImage, ig.Type)
	assert.Equal(t, []string{"https://cdn.example.com/u/clip.mp4"}, yt.MediaURLs)
	assert.Equal(t, yt.MediaURLs, ig.MediaURLs)
	assert.Equal(t, now.Add(time.Minute), yt.PublishAt)
	assert.Equal(t, "d", ig.Description)
}

func TestDispatchRespectsConcurrencyLimit(t *testing.T) {
	sched := &fakeScheduler{delay: 5 * time.Millisecond}
	d := NewDispatcher(sched, staticURLs{}, Options{Concurrency: 2}, nil)

	accs := accounts([2]string{"1", "x"}, [2]string{"2", "x"}, [2]string{"3", "x"}, [2]string{"4", "x"}, [2]string{"5", "x"})
	results := d.Dispatch(context.Background(), "key", Upload{Key: "k"}, accs)

	assert.Len(t, results, 5)
	assert.LessOrEqual(t, sched.maxInFlight.Load(), int64(2))
	assert.Equal(t, 5, Succeeded(results))
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	sched := &fakeScheduler{panicOn: "bad"}
	d := NewDispatcher(sched, staticURLs{}, Options{Concurrency: 2}, nil)

	results := d.Dispatch(context.Background(), "key", Upload{Key: "k"},
		accounts([2]string{"bad", "x"}, [2]string{"good", "x"}))

	assert.Equal(t, StatusError, results[0].Status)
	assert.Contains(t, results[0].Error, "internal error")
	assert.Equal(t, StatusSuccess, results[1].Status)
}

func TestDispatchWithNoAccounts(t *testing.T) {
	d := NewDispatcher(&fakeScheduler{}, staticURLs{}, Options{}, nil)
	results := d.Dispatch(context.Background(), "key", Upload{Key: "k"}, nil)
	assert.Empty(t, results)
	assert.Equal(t, 0, Succeeded(results))
}

// --- fakes ---

type fakeScheduler struct {
	mu          sync.Mutex
	errs        map[string]error
	panicOn     string
	delay       time.Duration
	calls       map[string]int
	payloads    map[string]aggregator.SchedulePayload
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (f *fakeScheduler) CreateSchedule(ctx context.Context, apiKey string, payload aggregator.SchedulePayload) (aggregator.ScheduleResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
		f.payloads = map[string]aggregator.SchedulePayload{}
	}
	f.calls[payload.AccountID]++
	f.payloads[payload.AccountID] = payload
	err := f.errs[payload.AccountID]
	f.mu.Unlock()

	if payload.AccountID == f.panicOn {
		panic("scheduler blew up")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err != nil {
		return aggregator.ScheduleResult{}, err
	}
	return aggregator.ScheduleResult{ID: "sched-" + payload.AccountID, Status: "scheduled"}, nil
}

func (f *fakeScheduler) callsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeScheduler) payloadFor(id string) aggregator.SchedulePayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[id]
}
