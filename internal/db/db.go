// Package db persists aggregated screen-time, posture and distance metrics
// plus the alert history to SQLite.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/stats"
)

type DB struct {
	*sql.DB
}

func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS screen_time (
			date              TEXT PRIMARY KEY,
			duration_sec      BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS posture_time (
			date              TEXT PRIMARY KEY,
			seconds           BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS distance_log (
			date              TEXT PRIMARY KEY,
			avg_distance_cm   DOUBLE NOT NULL DEFAULT 0,
			count             BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS screen_hourly (
			date_hour         TEXT PRIMARY KEY,
			duration_sec      BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS posture_hourly (
			date_hour         TEXT PRIMARY KEY,
			seconds           BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS distance_hourly (
			date_hour         TEXT PRIMARY KEY,
			sum_distance_cm   DOUBLE NOT NULL DEFAULT 0,
			count             BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS alerts (
			alert_id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id        TEXT,
			message           TEXT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// CommitFlush merges one flush batch into the daily and hourly tables in a
// single transaction. Daily distances use count-weighted averaging so the
// stored avg_distance_cm stays exact across any flush cadence. Hourly
// distances store raw sum and count. A failed transaction changes nothing.
func (db *DB) CommitFlush(batch stats.FlushBatch) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin flush transaction: %w", err)
	}
	defer tx.Rollback()

	if batch.VisibleDeltaSec > 0 {
		_, err = tx.Exec(`
			INSERT INTO screen_time (date, duration_sec) VALUES (?, ?)
			ON CONFLICT(date) DO UPDATE SET duration_sec = duration_sec + excluded.duration_sec`,
			batch.Date, batch.VisibleDeltaSec)
		if err != nil {
			return fmt.Errorf("failed to merge screen_time: %w", err)
		}
	}
	if batch.SlouchDeltaSec > 0 {
		_, err = tx.Exec(`
			INSERT INTO posture_time (date, seconds) VALUES (?, ?)
			ON CONFLICT(date) DO UPDATE SET seconds = seconds + excluded.seconds`,
			batch.Date, batch.SlouchDeltaSec)
		if err != nil {
			return fmt.Errorf("failed to merge posture_time: %w", err)
		}
	}
	if batch.DistanceCount > 0 {
		// SET expressions see the pre-update row, so avg*count is the old sum.
		_, err = tx.Exec(`
			INSERT INTO distance_log (date, avg_distance_cm, count) VALUES (?, ? / ?, ?)
			ON CONFLICT(date) DO UPDATE SET
				avg_distance_cm = (avg_distance_cm * count + ?) / (count + ?),
				count = count + ?`,
			batch.Date,
			batch.DistanceSumCM, float64(batch.DistanceCount), batch.DistanceCount,
			batch.DistanceSumCM, batch.DistanceCount, batch.DistanceCount)
		if err != nil {
			return fmt.Errorf("failed to merge distance_log: %w", err)
		}
	}
	if batch.HourVisibleSec > 0 {
		_, err = tx.Exec(`
			INSERT INTO screen_hourly (date_hour, duration_sec) VALUES (?, ?)
			ON CONFLICT(date_hour) DO UPDATE SET duration_sec = duration_sec + excluded.duration_sec`,
			batch.HourKey, batch.HourVisibleSec)
		if err != nil {
			return fmt.Errorf("failed to merge screen_hourly: %w", err)
		}
	}
	if batch.HourSlouchSec > 0 {
		_, err = tx.Exec(`
			INSERT INTO posture_hourly (date_hour, seconds) VALUES (?, ?)
			ON CONFLICT(date_hour) DO UPDATE SET seconds = seconds + excluded.seconds`,
			batch.HourKey, batch.HourSlouchSec)
		if err != nil {
			return fmt.Errorf("failed to merge posture_hourly: %w", err)
		}
	}
	if batch.HourDistanceCount > 0 {
		_, err = tx.Exec(`
			INSERT INTO distance_hourly (date_hour, sum_distance_cm, count) VALUES (?, ?, ?)
			ON CONFLICT(date_hour) DO UPDATE SET
				sum_distance_cm = sum_distance_cm + excluded.sum_distance_cm,
				count = count + excluded.count`,
			batch.HourKey, batch.HourDistanceSumCM, batch.HourDistanceCount)
		if err != nil {
			return fmt.Errorf("failed to merge distance_hourly: %w", err)
		}
	}

	return tx.Commit()
}

// LoadDay returns the persisted totals for a date key. Missing rows read as
// zero so a fresh database bootstraps cleanly.
func (db *DB) LoadDay(date string) (stats.DayTotals, error) {
	var t stats.DayTotals
	err := db.QueryRow("SELECT duration_sec FROM screen_time WHERE date = ?", date).Scan(&t.ScreenSec)
	if err != nil && err != sql.ErrNoRows {
		return t, err
	}
	err = db.QueryRow("SELECT seconds FROM posture_time WHERE date = ?", date).Scan(&t.PostureSec)
	if err != nil && err != sql.ErrNoRows {
		return t, err
	}
	err = db.QueryRow("SELECT avg_distance_cm, count FROM distance_log WHERE date = ?", date).
		Scan(&t.AvgDistanceCM, &t.DistanceCount)
	if err != nil && err != sql.ErrNoRows {
		return t, err
	}
	return t, nil
}

// InsertAlert appends one row to the alert history.
func (db *DB) InsertAlert(at time.Time, sessionID, message string) error {
	_, err := db.Exec(
		"INSERT INTO alerts (session_id, message, timestamp) VALUES (?, ?, ?)",
		sessionID, message, at.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Alert is one row of the alert history.
type Alert struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RecentAlerts returns up to limit alerts, newest first.
func (db *DB) RecentAlerts(limit int) ([]Alert, error) {
	rows, err := db.Query(
		"SELECT alert_id, session_id, message, timestamp FROM alerts ORDER BY alert_id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		var ts string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Message, &ts); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			a.Timestamp = t
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return alerts, nil
}

// DayMetrics is one date's persisted totals for the metrics API.
type DayMetrics struct {
	Date          string  `json:"date"`
	ScreenSec     int64   `json:"screen_sec"`
	PostureSec    int64   `json:"posture_sec"`
	AvgDistanceCM float64 `json:"avg_distance_cm"`
	DistanceCount int64   `json:"distance_count"`
}

// DailyMetrics returns per-date totals for dates >= since (inclusive),
// oldest first. A date present in any of the three daily tables appears once.
func (db *DB) DailyMetrics(since string) ([]DayMetrics, error) {
	rows, err := db.Query(`
		SELECT d.date,
			COALESCE(s.duration_sec, 0),
			COALESCE(p.seconds, 0),
			COALESCE(l.avg_distance_cm, 0),
			COALESCE(l.count, 0)
		FROM (
			SELECT date FROM screen_time
			UNION SELECT date FROM posture_time
			UNION SELECT date FROM distance_log
		) d
		LEFT JOIN screen_time s ON s.date = d.date
		LEFT JOIN posture_time p ON p.date = d.date
		LEFT JOIN distance_log l ON l.date = d.date
		WHERE d.date >= ?
		ORDER BY d.date ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DayMetrics
	for rows.Next() {
		var m DayMetrics
		if err := rows.Scan(&m.Date, &m.ScreenSec, &m.PostureSec, &m.AvgDistanceCM, &m.DistanceCount); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// HourMetrics is one hour bucket's persisted totals.
type HourMetrics struct {
	DateHour      string  `json:"date_hour"`
	ScreenSec     int64   `json:"screen_sec"`
	PostureSec    int64   `json:"posture_sec"`
	AvgDistanceCM float64 `json:"avg_distance_cm"`
}

// HourlyMetrics returns the hour buckets of one date key, oldest first.
func (db *DB) HourlyMetrics(date string) ([]HourMetrics, error) {
	rows, err := db.Query(`
		SELECT h.date_hour,
			COALESCE(s.duration_sec, 0),
			COALESCE(p.seconds, 0),
			CASE WHEN COALESCE(d.count, 0) > 0 THEN d.sum_distance_cm / d.count ELSE 0 END
		FROM (
			SELECT date_hour FROM screen_hourly
			UNION SELECT date_hour FROM posture_hourly
			UNION SELECT date_hour FROM distance_hourly
		) h
		LEFT JOIN screen_hourly s ON s.date_hour = h.date_hour
		LEFT JOIN posture_hourly p ON p.date_hour = h.date_hour
		LEFT JOIN distance_hourly d ON d.date_hour = h.date_hour
		WHERE h.date_hour LIKE ? || '%'
		ORDER BY h.date_hour ASC`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HourMetrics
	for rows.Next() {
		var m HourMetrics
		if err := rows.Scan(&m.DateHour, &m.ScreenSec, &m.PostureSec, &m.AvgDistanceCM); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EraseAll truncates every metrics and alert table in one transaction.
// Calibration data lives outside the database and is never touched here.
func (db *DB) EraseAll() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin erase transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"screen_time", "posture_time", "distance_log",
		"screen_hourly", "posture_hourly", "distance_hourly",
		"alerts",
	} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to erase %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Logf("failed to create tailsql server: %v", err)
		return
	}
	tsql.SetDB("sqlite://guardian.db", db.DB, &tailsql.DBOptions{
		Label: "Guardian DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
