package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/abduss/reelrelay/internal/aggregator"
	"github.com/abduss/reelrelay/internal/auth"
	"github.com/abduss/reelrelay/internal/config"
	"github.com/abduss/reelrelay/internal/credentials"
	"github.com/abduss/reelrelay/internal/fanout"
	"github.com/abduss/reelrelay/internal/lifecycle"
	"github.com/abduss/reelrelay/internal/metrics"
	"github.com/abduss/reelrelay/internal/objectstore"
	"github.com/abduss/reelrelay/internal/quota"
	"github.com/abduss/reelrelay/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUploadWorkflow drives register, login, credential setup, upload and quota
// inspection through the real router and services, with in-memory persistence
// and a fake aggregator.
func TestUploadWorkflow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer agg-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/accounts":
			_ = json.NewEncoder(w).Encode(map[string]any{"accounts": []aggregator.Account{
				{ID: "A", Name: "Channel", Type: "youtube", Status: "connected"},
				{ID: "B", Name: "Page", Type: "facebook", Status: "connected"},
				{ID: "C", Name: "Old", Type: "tiktok", Status: "disconnected"},
			}})
		case "/schedules":
			var p aggregator.SchedulePayload
			_ = json.NewDecoder(r.Body).Decode(&p)
			if p.AccountID == "B" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"token expired"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(aggregator.ScheduleResult{ID: "s-" + p.AccountID, Status: "scheduled"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{
		AccessTokenSecret:  "access",
		RefreshTokenSecret: "refresh",
		AccessTokenTTL:     time.Minute,
		RefreshTokenTTL:    time.Hour,
		BcryptCost:         4,
	}

	objects := &memObjects{data: map[string]int{}}
	urls := objectstore.NewURLBuilder("https://media.example.com")
	client := aggregator.NewClient(upstream.URL, 5*time.Second, nil)
	manager := lifecycle.NewManager(newMemUploads(), objects, 48*time.Hour, 100, nil)
	creds := credentials.NewService(&memCredentials{keys: map[uuid.UUID][]byte{}}, credentials.NewSealer([32]byte{7}))

	orch := relay.NewOrchestrator(relay.Deps{
		Quota:       quota.NewLedger(newMemQuota(), quota.Limits{MaxDailyUploads: 2, MaxMonthlyUploads: 10, MaxDailyBytes: 1 << 30, MaxMonthlyBytes: 1 << 32, DailyWindow: 24 * time.Hour, MonthlyWindow: 720 * time.Hour}),
		Lifecycle:   manager,
		Objects:     objects,
		Accounts:    client,
		Dispatcher:  fanout.NewDispatcher(client, urls, fanout.Options{VideoPlatform: "youtube", Concurrency: 2}, nil),
		Credentials: creds,
		URLs:        urls,
	}, relay.Options{MaxFileBytes: 10 << 20, AllowedMediaTypes: []string{"video/mp4"}, MaxTitleLength: 200, MaxDescriptionLength: 2000}, nil)

	router := NewRouter(Dependencies{
		Config:             cfg,
		AuthService:        auth.NewService(newMemUsers(), cfg.Auth),
		CredentialsService: creds,
		Relay:              orch,
	})

	call := func(method, path, token string, body io.Reader, contentType string) (int, map[string]any) {
		req := httptest.NewRequest(method, path, body)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		out := map[string]any{}
		_ = json.Unmarshal(rr.Body.Bytes(), &out)
		return rr.Code, out
	}

	status, _ := call(http.MethodPost, "/v1/auth/register", "", jsonBody(map[string]string{"email": "creator@example.com", "password": "password123"}), "application/json")
	require.Equal(t, http.StatusCreated, status)

	status, login := call(http.MethodPost, "/v1/auth/login", "", jsonBody(map[string]string{"email": "creator@example.com", "password": "password123"}), "application/json")
	require.Equal(t, http.StatusOK, status)
	token := login["tokens"].(map[string]any)["access_token"].(string)

	status, _ = call(http.MethodGet, "/v1/quota", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, me := call(http.MethodGet, "/v1/auth/me", token, nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "creator@example.com", me["email"])

	status, _ = call(http.MethodPut, "/v1/credentials", token, jsonBody(map[string]string{"api_key": "agg-secret"}), "application/json")
	require.Equal(t, http.StatusNoContent, status)

	status, accounts := call(http.MethodGet, "/v1/accounts", token, nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, accounts["accounts"], 2)

	for i := 0; i < 2; i++ {
		body, ct := videoForm(t, "clip", 1<<20)
		status, res := call(http.MethodPost, "/v1/uploads", token, body, ct)
		require.Equal(t, http.StatusCreated, status, res)
		assert.Equal(t, true, res["success"])

		results := res["results"].([]any)
		require.Len(t, results, 2)
		a, b := results[0].(map[string]any), results[1].(map[string]any)
		assert.Equal(t, "A", a["accountId"])
		assert.Equal(t, "success", a["status"])
		assert.Equal(t, "B", b["accountId"])
		assert.Equal(t, "error", b["status"])
		assert.Equal(t, "Invalid credentials", b["error"])
	}

	body, ct := videoForm(t, "third", 1<<20)
	status, denied := call(http.MethodPost, "/v1/uploads", token, body, ct)
	require.Equal(t, http.StatusTooManyRequests, status)
	current := denied["quota"].(map[string]any)["current"].(map[string]any)
	assert.EqualValues(t, 2, current["dailyUploads"])
	assert.Equal(t, 2, objects.count())

	status, pending := call(http.MethodGet, "/v1/uploads", token, nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, pending["uploads"], 2)
}

func jsonBody(v any) io.Reader {
	raw, _ := json.Marshal(v)
	return bytes.NewReader(raw)
}

func videoForm(t *testing.T, title string, size int) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("title", title))
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="clip.mp4"`)
	hdr.Set("Content-Type", "video/mp4")
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(make([]byte, size))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

// --- in-memory persistence ---

type memUsers struct {
	mu    sync.Mutex
	users map[string]auth.User
}

func newMemUsers() *memUsers { return &memUsers{users: map[string]auth.User{}} }

func (m *memUsers) CreateUser(ctx context.Context, email, passwordHash string, displayName *string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[email]; ok {
		return auth.User{}, auth.ErrEmailAlreadyExists
	}
	u := auth.User{ID: uuid.New(), Email: email, PasswordHash: passwordHash, DisplayName: displayName, CreatedAt: time.Now()}
	m.users[email] = u
	return u, nil
}

func (m *memUsers) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) StoreRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	return nil
}

func (m *memUsers) RevokeToken(ctx context.Context, userID uuid.UUID, tokenHash string) error {
	return nil
}

type memCredentials struct {
	mu   sync.Mutex
	keys map[uuid.UUID][]byte
}

func (m *memCredentials) Put(ctx context.Context, userID uuid.UUID, sealed []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[userID] = sealed
	return nil
}

func (m *memCredentials) Get(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sealed, ok := m.keys[userID]
	if !ok {
		return nil, credentials.ErrNotConfigured
	}
	return sealed, nil
}

type memQuota struct {
	mu      sync.Mutex
	records map[uuid.UUID]quota.Record
}

func newMemQuota() *memQuota { return &memQuota{records: map[uuid.UUID]quota.Record{}} }

func (m *memQuota) GetOrCreate(ctx context.Context, userID uuid.UUID, now time.Time) (quota.Record, quota.Origin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[userID]; ok {
		return rec, quota.Existing, nil
	}
	rec := quota.Record{UserID: userID, LastResetDaily: now, LastResetMonthly: now}
	m.records[userID] = rec
	return rec, quota.Created, nil
}

func (m *memQuota) ResetWindows(ctx context.Context, userID uuid.UUID, now, dailyCutoff, monthlyCutoff time.Time) (quota.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return quota.Record{}, quota.ErrRecordMissing
	}
	if !rec.LastResetDaily.After(dailyCutoff) {
		rec.DailyUploads, rec.DailyBytesUsed, rec.LastResetDaily = 0, 0, now
	}
	if !rec.LastResetMonthly.After(monthlyCutoff) {
		rec.MonthlyUploads, rec.MonthlyBytesUsed, rec.LastResetMonthly = 0, 0, now
	}
	m.records[userID] = rec
	return rec, nil
}

func (m *memQuota) AddUsage(ctx context.Context, userID uuid.UUID, deltaUploads, deltaBytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return quota.ErrRecordMissing
	}
	rec.DailyUploads = max(rec.DailyUploads+deltaUploads, 0)
	rec.MonthlyUploads = max(rec.MonthlyUploads+deltaUploads, 0)
	rec.DailyBytesUsed = max(rec.DailyBytesUsed+deltaBytes, 0)
	rec.MonthlyBytesUsed = max(rec.MonthlyBytesUsed+deltaBytes, 0)
	m.records[userID] = rec
	return nil
}

type memUploads struct {
	mu      sync.Mutex
	records map[string]lifecycle.Record
}

func newMemUploads() *memUploads { return &memUploads{records: map[string]lifecycle.Record{}} }

func (m *memUploads) Create(ctx context.Context, rec lifecycle.Record) (lifecycle.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Filename]; ok {
		return lifecycle.Record{}, lifecycle.ErrDuplicateFilename
	}
	m.records[rec.Filename] = rec
	return rec, nil
}

func (m *memUploads) GetByFilename(ctx context.Context, filename string) (lifecycle.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[filename]
	if !ok {
		return lifecycle.Record{}, lifecycle.ErrUploadNotFound
	}
	return rec, nil
}

func (m *memUploads) MarkDeleted(ctx context.Context, filename string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[filename]
	if !ok || rec.IsDeleted {
		return false, nil
	}
	rec.IsDeleted, rec.DeletedAt = true, &at
	m.records[filename] = rec
	return true, nil
}

func (m *memUploads) ListExpired(ctx context.Context, now time.Time, after lifecycle.Cursor, limit int) ([]lifecycle.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []lifecycle.Record
	for _, rec := range m.records {
		if rec.IsDeleted || rec.ScheduledDeletionAt.After(now) {
			continue
		}
		if rec.ScheduledDeletionAt.Before(after.ScheduledDeletionAt) ||
			(rec.ScheduledDeletionAt.Equal(after.ScheduledDeletionAt) && rec.ID.String() <= after.ID.String()) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledDeletionAt.Equal(out[j].ScheduledDeletionAt) {
			return out[i].ScheduledDeletionAt.Before(out[j].ScheduledDeletionAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memUploads) ListActive(ctx context.Context, userID uuid.UUID) ([]lifecycle.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []lifecycle.Record
	for _, rec := range m.records {
		if rec.UserID == userID && !rec.IsDeleted {
			out = append(out, rec)
		}
	}
	return out, nil
}

type memObjects struct {
	mu   sync.Mutex
	data map[string]int
}

func (m *memObjects) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	n, err := io.Copy(io.Discard, body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = int(n)
	return nil
}

func (m *memObjects) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memObjects) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
