package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/calibration"
	"github.com/banshee-data/posture.report/internal/config"
	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/landmark"
	"github.com/banshee-data/posture.report/internal/session"
	"github.com/banshee-data/posture.report/internal/stats"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

type idleDetector struct{}

func (idleDetector) Detect(ctx context.Context) (*landmark.Observation, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// newTestServer wires a real in-memory database behind a running session.
// The mock clock never fires the loop tickers, so the session only services
// control requests.
func newTestServer(t *testing.T) (*Server, *db.DB, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local))

	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	agg, err := stats.NewAggregator(clock, database, 15*time.Second)
	require.NoError(t, err)

	notifier := noopNotifier{}
	sess := session.New(clock, config.Empty(), idleDetector{}, calibration.DefaultProfile(), agg, database, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = sess.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-runDone
	})

	return NewServer(sess, database, clock, "127.0.0.1:0"), database, clock
}

type noopNotifier struct{}

func (noopNotifier) Notify(title, message string) {}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandleSummary(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t)

	rec := get(t, s, "/api/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.NotEmpty(t, snap.SessionID)
	assert.Equal(t, "cm", snap.Unit)

	rec = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/summary", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleMetrics(t *testing.T) {
	t.Parallel()
	s, database, _ := newTestServer(t)

	// Rows dated before today so the live-session overlay leaves them alone.
	require.NoError(t, database.CommitFlush(stats.FlushBatch{
		Date: "2026-03-09", VisibleDeltaSec: 3600, SlouchDeltaSec: 600,
	}))
	require.NoError(t, database.CommitFlush(stats.FlushBatch{
		Date: "2026-02-01", VisibleDeltaSec: 100,
	}))

	t.Run("week window", func(t *testing.T) {
		rec := get(t, s, "/api/metrics?period=week")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Period string          `json:"period"`
			Days   []db.DayMetrics `json:"days"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "week", resp.Period)
		require.Len(t, resp.Days, 1, "the February row is outside the window")
		assert.Equal(t, "2026-03-09", resp.Days[0].Date)
		assert.Equal(t, int64(3600), resp.Days[0].ScreenSec)
	})

	t.Run("default period is day", func(t *testing.T) {
		rec := get(t, s, "/api/metrics")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Period string          `json:"period"`
			Days   []db.DayMetrics `json:"days"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "day", resp.Period)
		assert.Empty(t, resp.Days, "yesterday is outside a one-day window and the session is idle")
	})

	t.Run("unknown period", func(t *testing.T) {
		rec := get(t, s, "/api/metrics?period=year")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleAlerts(t *testing.T) {
	t.Parallel()
	s, database, clock := newTestServer(t)

	t.Run("empty history returns empty array", func(t *testing.T) {
		rec := get(t, s, "/api/alerts")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "[]\n", rec.Body.String())
	})

	for _, msg := range []string{"Bad Posture - Sit up straight", "Too Close", "Eye Break Reminder"} {
		require.NoError(t, database.InsertAlert(clock.Now(), "sess-1", msg))
	}

	t.Run("newest first with limit", func(t *testing.T) {
		rec := get(t, s, "/api/alerts?limit=2")
		require.Equal(t, http.StatusOK, rec.Code)

		var alerts []db.Alert
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
		require.Len(t, alerts, 2)
		assert.Equal(t, "Eye Break Reminder", alerts[0].Message)
	})

	t.Run("bad limit falls back to default", func(t *testing.T) {
		rec := get(t, s, "/api/alerts?limit=-5")
		require.Equal(t, http.StatusOK, rec.Code)

		var alerts []db.Alert
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
		assert.Len(t, alerts, 3)
	})
}

func TestHandleErase(t *testing.T) {
	t.Parallel()
	s, database, clock := newTestServer(t)
	require.NoError(t, database.InsertAlert(clock.Now(), "sess-1", "Bad Posture"))

	t.Run("requires POST", func(t *testing.T) {
		rec := get(t, s, "/api/erase")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("requires confirm token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/erase", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		alerts, err := database.RecentAlerts(10)
		require.NoError(t, err)
		assert.Len(t, alerts, 1, "a refused erase must not touch data")
	})

	t.Run("confirmed erase wipes the store", func(t *testing.T) {
		form := url.Values{"confirm": {"ERASE"}}
		req := httptest.NewRequest(http.MethodPost, "/api/erase", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		s.server.Handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		alerts, err := database.RecentAlerts(10)
		require.NoError(t, err)
		assert.Empty(t, alerts)
	})
}

func TestHomeHandler(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t)

	rec := get(t, s, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Screen Guardian")
}

func TestCharts(t *testing.T) {
	t.Parallel()
	s, database, _ := newTestServer(t)

	t.Run("daily 404 without data", func(t *testing.T) {
		rec := get(t, s, "/charts/daily")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	require.NoError(t, database.CommitFlush(stats.FlushBatch{
		Date: "2026-03-09", HourKey: "2026-03-09 09",
		VisibleDeltaSec: 1800, SlouchDeltaSec: 300,
		HourVisibleSec: 1800, HourSlouchSec: 300,
	}))

	t.Run("daily renders html", func(t *testing.T) {
		rec := get(t, s, "/charts/daily")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rec.Body.String(), "Daily Screen Time")
	})

	t.Run("hourly renders the requested date", func(t *testing.T) {
		rec := get(t, s, "/charts/hourly?date=2026-03-09")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rec.Body.String(), "Hourly Breakdown")
	})

	t.Run("hourly 404 for a quiet date", func(t *testing.T) {
		rec := get(t, s, "/charts/hourly?date=2019-01-01")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
