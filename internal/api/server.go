// Package api exposes the monitoring session and persisted metrics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/session"
	"github.com/banshee-data/posture.report/internal/stats"
	"github.com/banshee-data/posture.report/internal/timeutil"
	"github.com/banshee-data/posture.report/internal/version"
)

type Server struct {
	sess    *session.Session
	db      *db.DB
	clock   timeutil.Clock
	address string
	server  *http.Server
}

func NewServer(sess *session.Session, database *db.DB, clock timeutil.Clock, address string) *Server {
	s := &Server{
		sess:    sess,
		db:      database,
		clock:   clock,
		address: address,
	}
	mux := s.ServeMux()
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		monitoring.Logf("got request %q", r.URL.Path)
		mux.ServeHTTP(w, r)
	})
	s.server = &http.Server{Addr: address, Handler: h}
	return s
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	// Handle the home page
	w.Write([]byte(fmt.Sprintf("Screen Guardian %s", version.Version)))
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/alerts", s.handleAlerts)
	mux.HandleFunc("/api/erase", s.handleErase)
	mux.HandleFunc("/charts/daily", s.handleDailyChart)
	mux.HandleFunc("/charts/hourly", s.handleHourlyChart)
	mux.HandleFunc("/", s.homeHandler)
	s.db.AttachAdminRoutes(mux)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("api: failed to encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// handleSummary returns the live session snapshot.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, s.sess.Snapshot())
}

// metricsResponse carries the persisted daily rows with today's row
// overlaid by the live session totals.
type metricsResponse struct {
	Period string          `json:"period"`
	Days   []db.DayMetrics `json:"days"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "day"
	}
	var days int
	switch period {
	case "day":
		days = 1
	case "week":
		days = 7
	case "month":
		days = 30
	default:
		s.writeJSONError(w, http.StatusBadRequest, "period must be day, week or month")
		return
	}

	now := s.clock.Now()
	since := now.AddDate(0, 0, -(days - 1)).Format(stats.DateKeyFormat)
	rows, err := s.db.DailyMetrics(since)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load metrics: %v", err))
		return
	}

	// Persisted rows lag the live session by up to one flush interval.
	snap := s.sess.Snapshot()
	today := now.Format(stats.DateKeyFormat)
	found := false
	for i := range rows {
		if rows[i].Date == today {
			rows[i].ScreenSec = snap.TodayScreenSec
			rows[i].PostureSec = snap.TodayPostureSec
			rows[i].AvgDistanceCM = snap.TodayAvgDistanceCM
			found = true
		}
	}
	if !found && (snap.TodayScreenSec > 0 || snap.TodayPostureSec > 0) {
		rows = append(rows, db.DayMetrics{
			Date:          today,
			ScreenSec:     snap.TodayScreenSec,
			PostureSec:    snap.TodayPostureSec,
			AvgDistanceCM: snap.TodayAvgDistanceCM,
		})
	}

	s.writeJSON(w, metricsResponse{Period: period, Days: rows})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	alerts, err := s.db.RecentAlerts(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load alerts: %v", err))
		return
	}
	if alerts == nil {
		alerts = []db.Alert{}
	}
	s.writeJSON(w, alerts)
}

// handleErase wipes all recorded metrics and alerts. Requires an explicit
// confirm token so a stray POST cannot destroy data. Calibration survives.
func (s *Server) handleErase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if r.FormValue("confirm") != "ERASE" {
		s.writeJSONError(w, http.StatusBadRequest, "pass confirm=ERASE to wipe all recorded data")
		return
	}

	if err := s.sess.EraseData(); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("erase failed: %v", err))
		return
	}
	s.writeJSON(w, map[string]string{"status": "erased"})
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown
func (s *Server) Start(ctx context.Context) error {
	go func() {
		monitoring.Logf("Starting HTTP server on %s", s.address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := s.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	return nil
}
