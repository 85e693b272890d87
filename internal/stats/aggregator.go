// Package stats accumulates visible-time, bad-posture-time and distance
// samples at three horizons (session, current hour, current day) and
// reconciles them into the persisted store without double-counting or losing
// time across restarts. Totals are exact: flush timing never changes them.
package stats

import (
	"fmt"
	"time"

	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

// Key formats for the persisted tables.
const (
	DateKeyFormat = "2006-01-02"
	HourKeyFormat = "2006-01-02 15"
)

// DayTotals are the persisted daily numbers for one date key.
type DayTotals struct {
	ScreenSec     int64
	PostureSec    int64
	AvgDistanceCM float64
	DistanceCount int64
}

// FlushBatch carries one flush cycle's pending deltas. A zero field means
// nothing to merge for that table. The store must apply the whole batch in
// one transaction: all tables or none.
type FlushBatch struct {
	Date    string
	HourKey string

	VisibleDeltaSec int64
	SlouchDeltaSec  int64
	DistanceSumCM   float64
	DistanceCount   int64

	HourVisibleSec    int64
	HourSlouchSec     int64
	HourDistanceSumCM float64
	HourDistanceCount int64
}

// Empty reports whether the batch would merge nothing.
func (b FlushBatch) Empty() bool {
	return b.VisibleDeltaSec == 0 && b.SlouchDeltaSec == 0 && b.DistanceCount == 0 &&
		b.HourVisibleSec == 0 && b.HourSlouchSec == 0 && b.HourDistanceCount == 0
}

// Store is the persistence contract the aggregator flushes through.
type Store interface {
	// CommitFlush merges the batch into the daily and hourly tables using
	// count-weighted averaging, atomically.
	CommitFlush(batch FlushBatch) error
	// LoadDay returns the persisted totals for a date key; zero totals when
	// the date has no rows.
	LoadDay(date string) (DayTotals, error)
}

// Aggregator owns the pending buffers and watermarks. Single writer is the
// statistics loop; the UI reads copies via the Totals methods.
type Aggregator struct {
	clock timeutil.Clock
	store Store

	// Visible-time segments.
	visibleStart *time.Time
	visibleAccum int64 // completed segment seconds
	sessionStart *time.Time
	sessionCount int64
	slouchStart  *time.Time
	slouchAccum  int64

	// Daily watermarks: portion of the accumulators already persisted.
	savedVisible int64
	savedSlouch  int64

	// Hourly watermarks and pending buffers.
	prevTotalVisible int64
	prevTotalSlouch  int64
	hourKey          string
	pendHourVisible  int64
	pendHourSlouch   int64
	pendHourDistSum  float64
	pendHourDistCnt  int64

	// Daily pending distance buffer and running today totals.
	pendDistSum  float64
	pendDistCnt  int64
	distSumTotal float64
	distCntTotal int64
	todayScreen  int64
	todayPosture int64

	flushInterval time.Duration
	lastFlush     time.Time
}

// NewAggregator constructs an Aggregator and bootstraps today's persisted
// totals so daily averages continue seamlessly across restarts.
func NewAggregator(clock timeutil.Clock, store Store, flushInterval time.Duration) (*Aggregator, error) {
	a := &Aggregator{
		clock:         clock,
		store:         store,
		flushInterval: flushInterval,
		lastFlush:     clock.Now(),
	}
	a.hourKey = clock.Now().Format(HourKeyFormat)

	today, err := store.LoadDay(clock.Now().Format(DateKeyFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap today's totals: %w", err)
	}
	a.todayScreen = today.ScreenSec
	a.todayPosture = today.PostureSec
	a.distSumTotal = today.AvgDistanceCM * float64(today.DistanceCount)
	a.distCntTotal = today.DistanceCount
	return a, nil
}

// SetVisible opens or closes a visible-time segment. A new open segment also
// counts as a new session for the session-length metric.
func (a *Aggregator) SetVisible(visible bool) {
	now := a.clock.Now()
	if visible {
		if a.visibleStart == nil {
			t := now
			a.visibleStart = &t
			s := now
			a.sessionStart = &s
			a.sessionCount++
		}
		return
	}
	if a.visibleStart != nil {
		a.visibleAccum += int64(now.Sub(*a.visibleStart).Seconds())
		a.visibleStart = nil
		a.sessionStart = nil
	}
}

// SetSlouching opens or closes a bad-posture segment.
func (a *Aggregator) SetSlouching(slouching bool) {
	now := a.clock.Now()
	if slouching {
		if a.slouchStart == nil {
			t := now
			a.slouchStart = &t
		}
		return
	}
	if a.slouchStart != nil {
		a.slouchAccum += int64(now.Sub(*a.slouchStart).Seconds())
		a.slouchStart = nil
	}
}

// RecordDistance adds one smoothed distance sample to every horizon.
func (a *Aggregator) RecordDistance(cm float64) {
	a.pendDistSum += cm
	a.pendDistCnt++
	a.pendHourDistSum += cm
	a.pendHourDistCnt++
	a.distSumTotal += cm
	a.distCntTotal++
}

// TotalVisibleSeconds returns the exact visible total including the open
// segment.
func (a *Aggregator) TotalVisibleSeconds() int64 {
	total := a.visibleAccum
	if a.visibleStart != nil {
		total += int64(a.clock.Since(*a.visibleStart).Seconds())
	}
	return total
}

// TotalSlouchSeconds returns the exact bad-posture total including the open
// segment.
func (a *Aggregator) TotalSlouchSeconds() int64 {
	total := a.slouchAccum
	if a.slouchStart != nil {
		total += int64(a.clock.Since(*a.slouchStart).Seconds())
	}
	return total
}

// UnsavedVisibleSeconds is the visible time not yet persisted.
func (a *Aggregator) UnsavedVisibleSeconds() int64 {
	return max64(0, a.TotalVisibleSeconds()-a.savedVisible)
}

// UnsavedSlouchSeconds is the bad-posture time not yet persisted.
func (a *Aggregator) UnsavedSlouchSeconds() int64 {
	return max64(0, a.TotalSlouchSeconds()-a.savedSlouch)
}

// PendingDistance returns the distance sum/count not yet persisted.
func (a *Aggregator) PendingDistance() (float64, int64) {
	return a.pendDistSum, a.pendDistCnt
}

// TodayScreenSeconds returns persisted screen time for today plus nothing
// pending (callers add UnsavedVisibleSeconds for live views).
func (a *Aggregator) TodayScreenSeconds() int64 { return a.todayScreen }

// TodayPostureSeconds returns persisted posture time for today.
func (a *Aggregator) TodayPostureSeconds() int64 { return a.todayPosture }

// TodayAvgDistanceCM returns the exact running daily average, ok=false when
// no samples exist yet.
func (a *Aggregator) TodayAvgDistanceCM() (float64, bool) {
	if a.distCntTotal == 0 {
		return 0, false
	}
	return a.distSumTotal / float64(a.distCntTotal), true
}

// SessionCount returns how many visible sessions have started.
func (a *Aggregator) SessionCount() int64 { return a.sessionCount }

// PostureScore returns the percentage of visible time spent in good posture.
func (a *Aggregator) PostureScore() float64 {
	visible := a.TotalVisibleSeconds()
	if visible <= 0 {
		return 0
	}
	good := visible - a.TotalSlouchSeconds()
	return float64(good) / float64(visible) * 100
}

// Tick advances the hourly pending buffers from the watermarked totals and
// handles hour rollover. Call once per statistics cycle. A rollover flushes
// the previous hour's buffers immediately so no sample lands in the wrong
// bucket.
func (a *Aggregator) Tick() {
	now := a.clock.Now()
	currentHour := now.Format(HourKeyFormat)
	if currentHour != a.hourKey {
		if err := a.flushHourly(a.hourKey); err != nil {
			// Keep buffers; retry against the old key next cycle.
			monitoring.Logf("stats: hour rollover flush failed: %v", err)
			return
		}
		a.hourKey = currentHour
	}

	totalVisible := a.TotalVisibleSeconds()
	if delta := totalVisible - a.prevTotalVisible; delta > 0 {
		a.pendHourVisible += delta
	}
	a.prevTotalVisible = totalVisible

	totalSlouch := a.TotalSlouchSeconds()
	if delta := totalSlouch - a.prevTotalSlouch; delta > 0 {
		a.pendHourSlouch += delta
	}
	a.prevTotalSlouch = totalSlouch
}

// flushHourly merges only the hourly pending buffers under the given key.
func (a *Aggregator) flushHourly(hourKey string) error {
	batch := FlushBatch{
		HourKey:           hourKey,
		HourVisibleSec:    a.pendHourVisible,
		HourSlouchSec:     a.pendHourSlouch,
		HourDistanceSumCM: a.pendHourDistSum,
		HourDistanceCount: a.pendHourDistCnt,
	}
	if batch.Empty() {
		return nil
	}
	if err := a.store.CommitFlush(batch); err != nil {
		return err
	}
	a.pendHourVisible = 0
	a.pendHourSlouch = 0
	a.pendHourDistSum = 0
	a.pendHourDistCnt = 0
	return nil
}

// MaybeFlush runs a periodic flush when the interval has elapsed.
func (a *Aggregator) MaybeFlush() error {
	if a.clock.Since(a.lastFlush) < a.flushInterval {
		return nil
	}
	return a.Flush()
}

// Flush merges all pending deltas (daily and current-hour) into the store in
// one transaction. On failure every buffer and watermark is left untouched
// so the next attempt retries the same delta; watermarks advance only after
// a confirmed merge, so retries never double-apply.
func (a *Aggregator) Flush() error {
	now := a.clock.Now()
	totalVisible := a.TotalVisibleSeconds()
	totalSlouch := a.TotalSlouchSeconds()

	batch := FlushBatch{
		Date:              now.Format(DateKeyFormat),
		HourKey:           a.hourKey,
		VisibleDeltaSec:   max64(0, totalVisible-a.savedVisible),
		SlouchDeltaSec:    max64(0, totalSlouch-a.savedSlouch),
		DistanceSumCM:     a.pendDistSum,
		DistanceCount:     a.pendDistCnt,
		HourVisibleSec:    a.pendHourVisible,
		HourSlouchSec:     a.pendHourSlouch,
		HourDistanceSumCM: a.pendHourDistSum,
		HourDistanceCount: a.pendHourDistCnt,
	}
	if batch.Empty() {
		a.lastFlush = now
		return nil
	}

	if err := a.store.CommitFlush(batch); err != nil {
		return fmt.Errorf("flush failed, retaining pending buffers: %w", err)
	}

	a.savedVisible = totalVisible
	a.savedSlouch = totalSlouch
	a.todayScreen += batch.VisibleDeltaSec
	a.todayPosture += batch.SlouchDeltaSec
	a.pendDistSum = 0
	a.pendDistCnt = 0
	a.pendHourVisible = 0
	a.pendHourSlouch = 0
	a.pendHourDistSum = 0
	a.pendHourDistCnt = 0
	a.lastFlush = now
	return nil
}

// Close finalizes open segments and performs one last synchronous flush.
func (a *Aggregator) Close() error {
	a.SetSlouching(false)
	a.SetVisible(false)
	a.Tick()
	return a.Flush()
}

// Reset zeroes every accumulator, buffer and watermark. Used by the data
// erase operation after the store tables have been truncated.
func (a *Aggregator) Reset() {
	a.visibleStart = nil
	a.visibleAccum = 0
	a.sessionStart = nil
	a.sessionCount = 0
	a.slouchStart = nil
	a.slouchAccum = 0
	a.savedVisible = 0
	a.savedSlouch = 0
	a.prevTotalVisible = 0
	a.prevTotalSlouch = 0
	a.pendHourVisible = 0
	a.pendHourSlouch = 0
	a.pendHourDistSum = 0
	a.pendHourDistCnt = 0
	a.pendDistSum = 0
	a.pendDistCnt = 0
	a.distSumTotal = 0
	a.distCntTotal = 0
	a.todayScreen = 0
	a.todayPosture = 0
	a.hourKey = a.clock.Now().Format(HourKeyFormat)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
