// Package session runs the monitoring pipeline: a capture loop feeding the
// latest landmark observation through a single-slot handoff into the
// statistics loop, which owns classification, alerting and aggregation.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/posture.report/internal/alerts"
	"github.com/banshee-data/posture.report/internal/calibration"
	"github.com/banshee-data/posture.report/internal/config"
	"github.com/banshee-data/posture.report/internal/landmark"
	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture"
	"github.com/banshee-data/posture.report/internal/stats"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

// ErrStopped is returned by operations submitted after shutdown.
var ErrStopped = errors.New("session stopped")

// AlertStore persists fired alerts and services the data erase.
type AlertStore interface {
	InsertAlert(at time.Time, sessionID, message string) error
	EraseAll() error
}

// Snapshot is a point-in-time copy of the session state for the HTTP API.
// All fields are plain values so readers never alias loop-owned state.
type Snapshot struct {
	SessionID  string `json:"session_id"`
	Visible    bool   `json:"visible"`
	Calibrated bool   `json:"calibrated"`

	DistanceCM float64 `json:"distance_cm"`
	DistanceOK bool    `json:"distance_ok"`
	Unit       string  `json:"unit"`

	ActiveAlerts []string `json:"active_alerts"`

	TodayScreenSec     int64   `json:"today_screen_sec"`
	TodayPostureSec    int64   `json:"today_posture_sec"`
	TodayAvgDistanceCM float64 `json:"today_avg_distance_cm"`
	PostureScore       float64 `json:"posture_score"`
	SessionCount       int64   `json:"session_count"`
	AvgSessionSec      int64   `json:"avg_session_sec"`
	EyeBreakCount      int64   `json:"eye_break_count"`

	AvgHorizontalOffset float64            `json:"avg_horizontal_offset"`
	AvgEyeTilt          float64            `json:"avg_eye_tilt"`
	Diagnostics         map[string]float64 `json:"diagnostics"`
}

// Session wires the pipeline together. The statistics loop is the sole
// mutator of the classifier, alert bank and aggregator; the capture loop
// only writes to the slot and the API only reads snapshots.
type Session struct {
	id       string
	clock    timeutil.Clock
	cfg      *config.GuardConfig
	detector landmark.Detector
	slot     *landmark.Slot

	estimator  *posture.Estimator
	classifier *posture.Classifier
	bank       *alerts.Bank
	headTurn   *alerts.HeadTurnTracker
	agg        *stats.Aggregator
	store      AlertStore
	notifier   alerts.Notifier

	eyeBreakMark  int64
	eyeBreakCount int64

	eraseCh chan chan error
	done    chan struct{}

	mu   sync.RWMutex
	snap Snapshot
}

// New assembles a Session from its collaborators.
func New(clock timeutil.Clock, cfg *config.GuardConfig, detector landmark.Detector,
	profile *calibration.Profile, agg *stats.Aggregator, store AlertStore,
	notifier alerts.Notifier) *Session {

	thresholds := posture.Thresholds{
		Vertical: cfg.GetVertThresh(),
		EyeTilt:  cfg.GetEyeTiltThresh(),
		Neck:     cfg.GetNeckThresh(),
		Depth:    cfg.GetDepthThresh(),
	}

	s := &Session{
		id:         uuid.NewString(),
		clock:      clock,
		cfg:        cfg,
		detector:   detector,
		slot:       landmark.NewSlot(),
		estimator:  posture.NewEstimator(profile),
		classifier: posture.NewClassifier(thresholds, profile),
		bank:       alerts.NewBank(clock, notifier, cfg.GetNotifyDelay(), cfg.GetActiveAppearDelay()),
		headTurn:   alerts.NewHeadTurnTracker(clock),
		agg:        agg,
		store:      store,
		notifier:   notifier,
		eraseCh:    make(chan chan error),
		done:       make(chan struct{}),
	}
	s.snap = Snapshot{SessionID: s.id, Unit: cfg.GetUnit(), Calibrated: profile.Calibrated()}
	return s
}

// ID returns the session identifier stamped onto persisted alerts.
func (s *Session) ID() string { return s.id }

// Run drives the capture and statistics loops until the context is
// cancelled, then closes open segments and flushes synchronously. The
// returned error is non-nil only when the final flush failed.
func (s *Session) Run(ctx context.Context) error {
	captureDone := make(chan struct{})
	go func() {
		defer close(captureDone)
		s.captureLoop(ctx)
	}()

	ticker := s.clock.NewTicker(s.cfg.GetStatsInterval())
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case reply := <-s.eraseCh:
			reply <- s.erase()
		case <-ticker.C():
			s.cycle()
		}
	}

	close(s.done)
	s.slot.Close()
	<-captureDone

	if err := s.agg.Close(); err != nil {
		return err
	}
	monitoring.Logf("session %s stopped", s.id)
	return nil
}

// captureLoop polls the detector at the frame interval and hands the latest
// observation to the statistics loop. Consecutive failures beyond the
// configured ceiling stop this loop; the statistics loop keeps running so
// accumulated time still flushes.
func (s *Session) captureLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.GetFrameInterval())
	defer ticker.Stop()

	failures := 0
	maxFailures := s.cfg.GetMaxReadFailures()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
		if s.slot.Closed() {
			return
		}

		obs, err := s.detector.Detect(ctx)
		if err != nil {
			failures++
			if failures >= maxFailures {
				monitoring.Logf("capture: %d consecutive read failures, stopping capture: %v", failures, err)
				return
			}
			continue
		}
		failures = 0
		s.slot.Put(obs)
	}
}

// cycle processes at most one pending observation, advances the alert bank
// and aggregator, and publishes a fresh snapshot.
func (s *Session) cycle() {
	obs := s.slot.Take()

	flags, diag := s.classifier.Classify(obs)
	visible := obs != nil && obs.LandmarksPresent && obs.FaceWidthPX > 0

	s.agg.SetVisible(visible)

	var distanceCM float64
	var distanceOK bool
	if visible {
		if cm, ok := s.estimator.Estimate(obs); ok {
			distanceCM, distanceOK = cm, true
			s.agg.RecordDistance(cm)
		}
	}

	// Head turn sustained past the threshold joins the posture reasons. A
	// turned body already zeroes these components, so the tracker only
	// accrues while the torso faces the camera.
	reasons := postureReasons(flags)
	turning := visible && (flags.EyeTiltBad || flags.HeadTwistBad || flags.HorizontalOffsetBad)
	if s.headTurn.Update(turning) {
		reasons = append(reasons, "Face forward")
	}

	slouching := visible && (flags.AnyPosture() || len(reasons) > 0)
	s.agg.SetSlouching(slouching)

	s.fire(alerts.BadPosture, slouching && s.cfg.GetEnablePosture(), reasons)
	s.fire(alerts.TooClose, distanceOK && distanceCM < s.cfg.GetMinDistanceCM() && s.cfg.GetEnableDistance(), nil)
	s.fire(alerts.BodyTurned, visible && flags.BodyTurned, nil)
	s.fire(alerts.NailBiting, visible && flags.NailBiting && s.cfg.GetEnableNailBiting(), nil)
	s.fire(alerts.FaceTouch, visible && flags.FaceTouch && s.cfg.GetEnableFaceTouch(), nil)
	s.fire(alerts.PartialFrame, s.classifier.PartialFrame(), nil)

	s.maybeEyeBreak()

	s.agg.Tick()
	if err := s.agg.MaybeFlush(); err != nil {
		monitoring.Logf("stats: %v", err)
	}

	s.publish(visible, distanceCM, distanceOK, diag)
}

// fire runs one alert-bank transition and persists any resulting event.
func (s *Session) fire(cat alerts.Category, condition bool, reasons []string) {
	event := s.bank.Update(cat, condition, reasons)
	if event == nil {
		return
	}
	if err := s.store.InsertAlert(event.At, s.id, event.Message); err != nil {
		monitoring.Logf("alerts: failed to persist %s event: %v", event.Category, err)
	}
}

// maybeEyeBreak fires the periodic look-away reminder once per interval of
// accumulated visible time. Unlike the condition alerts it has no pending
// phase: it is a timer over screen time, reset by firing.
func (s *Session) maybeEyeBreak() {
	if !s.cfg.GetEnableEyeBreak() {
		return
	}
	total := s.agg.TotalVisibleSeconds()
	if total-s.eyeBreakMark < int64(alerts.EyeBreakInterval.Seconds()) {
		return
	}
	s.eyeBreakMark = total
	s.eyeBreakCount++
	if s.notifier != nil {
		s.notifier.Notify("Eye Break", "Look at something 20 feet away for 20 seconds.")
	}
	if err := s.store.InsertAlert(s.clock.Now(), s.id, "Eye Break Reminder"); err != nil {
		monitoring.Logf("alerts: failed to persist eye break event: %v", err)
	}
}

// erase truncates the store and zeroes all in-memory accumulators. Runs on
// the statistics loop so no cycle observes a half-erased state.
func (s *Session) erase() error {
	if err := s.store.EraseAll(); err != nil {
		return err
	}
	s.agg.Reset()
	s.bank.Reset()
	s.estimator.Reset()
	s.eyeBreakMark = 0
	s.eyeBreakCount = 0
	monitoring.Logf("session %s: all recorded data erased", s.id)
	return nil
}

// EraseData requests a full data erase and waits for the statistics loop to
// perform it. Calibration is unaffected.
func (s *Session) EraseData() error {
	reply := make(chan error, 1)
	select {
	case s.eraseCh <- reply:
		return <-reply
	case <-s.done:
		return ErrStopped
	}
}

// publish replaces the shared snapshot under the write lock.
func (s *Session) publish(visible bool, distanceCM float64, distanceOK bool, diag posture.Diagnostics) {
	avgOffset, avgTilt := s.classifier.RollingAverages()

	var avgSession int64
	if n := s.agg.SessionCount(); n > 0 {
		avgSession = s.agg.TotalVisibleSeconds() / n
	}
	todayAvg, _ := s.agg.TodayAvgDistanceCM()

	diagCopy := make(map[string]float64, len(diag))
	for k, v := range diag {
		diagCopy[k] = v
	}

	snap := Snapshot{
		SessionID:  s.id,
		Visible:    visible,
		Calibrated: s.snap.Calibrated,

		DistanceCM: distanceCM,
		DistanceOK: distanceOK,
		Unit:       s.cfg.GetUnit(),

		ActiveAlerts: s.bank.ActiveLabels(),

		TodayScreenSec:     s.agg.TodayScreenSeconds() + s.agg.UnsavedVisibleSeconds(),
		TodayPostureSec:    s.agg.TodayPostureSeconds() + s.agg.UnsavedSlouchSeconds(),
		TodayAvgDistanceCM: todayAvg,
		PostureScore:       s.agg.PostureScore(),
		SessionCount:       s.agg.SessionCount(),
		AvgSessionSec:      avgSession,
		EyeBreakCount:      s.eyeBreakCount,

		AvgHorizontalOffset: avgOffset,
		AvgEyeTilt:          avgTilt,
		Diagnostics:         diagCopy,
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

// Snapshot returns a copy of the latest published state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	snap.ActiveAlerts = append([]string(nil), s.snap.ActiveAlerts...)
	diagCopy := make(map[string]float64, len(s.snap.Diagnostics))
	for k, v := range s.snap.Diagnostics {
		diagCopy[k] = v
	}
	snap.Diagnostics = diagCopy
	return snap
}

// postureReasons maps raised posture flags to the corrective suggestions
// shown in notifications.
func postureReasons(flags posture.Flags) []string {
	var reasons []string
	if flags.VerticalBad {
		reasons = append(reasons, "Sit up straight")
	}
	if flags.DepthBad {
		reasons = append(reasons, "Lean back")
	}
	if flags.EyeTiltBad {
		reasons = append(reasons, "Straighten your head")
	}
	if flags.HeadTwistBad {
		reasons = append(reasons, "Level your head")
	}
	// A short neck and a laterally offset head share the correction.
	if flags.NeckShortBad || flags.HorizontalOffsetBad {
		reasons = append(reasons, "Straighten your neck")
	}
	return reasons
}
