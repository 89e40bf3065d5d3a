package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"facetrack/internal/attendance"
	"facetrack/internal/auth"
	"facetrack/internal/config"
	"facetrack/internal/policy"
	"facetrack/internal/roster"
	"facetrack/internal/schedule"
)

var errConnRefused = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

type downSchedules struct{}

func (downSchedules) Active(ctx context.Context) ([]schedule.Definition, error) {
	return nil, errConnRefused
}

func (downSchedules) Get(ctx context.Context, id int64) (*schedule.Definition, error) {
	return nil, errConnRefused
}

type emptySchedules struct{}

func (emptySchedules) Active(ctx context.Context) ([]schedule.Definition, error) {
	return nil, nil
}

func (emptySchedules) Get(ctx context.Context, id int64) (*schedule.Definition, error) {
	return nil, nil
}

type emptyRoster struct{}

func (emptyRoster) MembersOf(ctx context.Context, groupID *int64) ([]roster.Member, error) {
	return nil, nil
}

type emptyEvents struct{}

func (emptyEvents) ForOccurrence(ctx context.Context, scheduleID int64, date time.Time) ([]attendance.Event, error) {
	return nil, nil
}

type defaultPolicies struct{}

func (defaultPolicies) Current(ctx context.Context) (policy.Policy, error) {
	return policy.Default, nil
}

type memDeviceStore struct {
	saved   map[string]time.Time
	revoked map[string]bool
}

func newMemDeviceStore() *memDeviceStore {
	return &memDeviceStore{saved: map[string]time.Time{}, revoked: map[string]bool{}}
}

func (m *memDeviceStore) Upsert(ctx context.Context, deviceID string) error { return nil }

func (m *memDeviceStore) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	m.saved[token] = expiresAt
	return nil
}

func (m *memDeviceStore) RevokeRefreshToken(ctx context.Context, token string) error {
	m.revoked[token] = true
	return nil
}

func (m *memDeviceStore) ValidRefreshToken(ctx context.Context, deviceID, token string) (bool, error) {
	exp, ok := m.saved[token]
	return ok && !m.revoked[token] && time.Now().Before(exp), nil
}

func testConfig() config.App {
	return config.App{
		Env:             "test",
		JWTIssuer:       "facetrack",
		JWTSigningKey:   "test-signing-key",
		AccessTTL:       time.Minute,
		RefreshTTL:      time.Hour,
		RateLimitPerMin: 1000,
	}
}

func testServer(engine *attendance.Engine, devices deviceStore) *server {
	gin.SetMode(gin.TestMode)
	return &server{
		cfg:     testConfig(),
		log:     zap.NewNop(),
		engine:  engine,
		devices: devices,
	}
}

func authedGet(t *testing.T, r *gin.Engine, cfg config.App, path string) *httptest.ResponseRecorder {
	t.Helper()
	tokens, err := auth.Issue("cam-1", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWeekScheduleOutOfRangeIsBadRequest(t *testing.T) {
	// Week validation fires before any data source is touched, so even a
	// dead backend yields a 400, not a 5xx.
	engine := attendance.NewEngine(downSchedules{}, emptyRoster{}, emptyEvents{}, defaultPolicies{})
	s := testServer(engine, newMemDeviceStore())

	w := authedGet(t, s.router(), s.cfg, "/v1/schedules/week?year=2024&week=53")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWeekScheduleBackendDownIsServiceUnavailable(t *testing.T) {
	engine := attendance.NewEngine(downSchedules{}, emptyRoster{}, emptyEvents{}, defaultPolicies{})
	s := testServer(engine, newMemDeviceStore())

	w := authedGet(t, s.router(), s.cfg, "/v1/schedules/week?year=2024&week=10")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestRangeStatsInvalidRangeIsBadRequest(t *testing.T) {
	engine := attendance.NewEngine(downSchedules{}, emptyRoster{}, emptyEvents{}, defaultPolicies{})
	s := testServer(engine, newMemDeviceStore())

	w := authedGet(t, s.router(), s.cfg, "/v1/stats/range?from=2024-03-10&to=2024-03-01")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRangeStatsBackendDownIsServiceUnavailable(t *testing.T) {
	engine := attendance.NewEngine(downSchedules{}, emptyRoster{}, emptyEvents{}, defaultPolicies{})
	s := testServer(engine, newMemDeviceStore())

	w := authedGet(t, s.router(), s.cfg, "/v1/stats/range?from=2024-03-01&to=2024-03-10")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRangeStatsEmptyBackend(t *testing.T) {
	engine := attendance.NewEngine(emptySchedules{}, emptyRoster{}, emptyEvents{}, defaultPolicies{})
	s := testServer(engine, newMemDeviceStore())

	w := authedGet(t, s.router(), s.cfg, "/v1/stats/range?from=2024-03-01&to=2024-03-10")
	assert.Equal(t, http.StatusOK, w.Code)

	var stats attendance.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.Total)
}

func postJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRefreshRotatesStoredToken(t *testing.T) {
	devices := newMemDeviceStore()
	engine := attendance.NewEngine(emptySchedules{}, emptyRoster{}, emptyEvents{}, defaultPolicies{})
	s := testServer(engine, devices)
	r := s.router()

	w := postJSON(r, "/v1/devices/register", `{"device_id":"cam-1"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var issued struct {
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	require.NotEmpty(t, issued.RefreshToken)

	// First exchange succeeds and stores a new refresh token.
	w = postJSON(r, "/v1/devices/refresh", `{"refresh_token":"`+issued.RefreshToken+`"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, devices.revoked[issued.RefreshToken])

	var rotated struct {
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rotated))
	_, saved := devices.saved[rotated.RefreshToken]
	assert.True(t, saved)

	// The exchanged token is spent: replaying it must fail even though
	// its JWT signature and expiry are still valid.
	w = postJSON(r, "/v1/devices/refresh", `{"refresh_token":"`+issued.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefreshRejectsUnknownToken(t *testing.T) {
	devices := newMemDeviceStore()
	engine := attendance.NewEngine(emptySchedules{}, emptyRoster{}, emptyEvents{}, defaultPolicies{})
	s := testServer(engine, devices)

	// Signed with the right key but never stored: a forged or rotated-out
	// token must not mint new pairs.
	tokens, err := auth.Issue("cam-9", s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.AccessTTL, s.cfg.RefreshTTL)
	require.NoError(t, err)

	w := postJSON(s.router(), "/v1/devices/refresh", `{"refresh_token":"`+tokens.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	devices := newMemDeviceStore()
	engine := attendance.NewEngine(emptySchedules{}, emptyRoster{}, emptyEvents{}, defaultPolicies{})
	s := testServer(engine, devices)

	tokens, err := auth.Issue("cam-1", s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.AccessTTL, s.cfg.RefreshTTL)
	require.NoError(t, err)
	devices.saved[tokens.AccessToken] = time.Now().Add(time.Hour)

	w := postJSON(s.router(), "/v1/devices/refresh", `{"refresh_token":"`+tokens.AccessToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
