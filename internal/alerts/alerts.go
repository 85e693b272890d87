// Package alerts implements the debounced alert state machine. Each alert
// category runs an independent four-phase machine over its boolean condition
// stream: Idle -> Pending -> Active -> Notified. The Pending->Active delay
// debounces the UI-visible list; the Pending->Notified delay rate-limits
// external notifications. Categories never share timers.
package alerts

import (
	"sort"
	"time"

	"github.com/banshee-data/posture.report/internal/timeutil"
)

// Phase is the lifecycle state of one alert category.
type Phase string

const (
	PhaseIdle     Phase = "idle"     // condition false
	PhasePending  Phase = "pending"  // condition true, debouncing
	PhaseActive   Phase = "active"   // visible in the active-alerts list
	PhaseNotified Phase = "notified" // external notification fired
)

// Category identifies one independently evaluated alert condition.
type Category string

const (
	BadPosture   Category = "bad_posture"
	TooClose     Category = "too_close"
	BodyTurned   Category = "body_turned"
	NailBiting   Category = "nail_biting"
	FaceTouch    Category = "face_touch"
	PartialFrame Category = "partial_frame"
	EyeBreak     Category = "eye_break"
)

// Category timing constants.
const (
	NailBitingSustain = 5 * time.Second
	FaceTouchSustain  = 3 * time.Second
	ContactCooldown   = 60 * time.Second
	TooCloseCooldown  = 60 * time.Second
	HeadTurnSustain   = 30 * time.Second
	EyeBreakInterval  = 1200 * time.Second
)

// Notifier delivers an external notification. Fire-and-forget: failures are
// the implementation's problem, never the caller's.
type Notifier interface {
	Notify(title, message string)
}

// Rule describes one category's labels and timing. A zero NotifyDelay or
// AppearDelay falls back to the bank defaults; a negative AppearDelay shows
// the alert immediately. A zero RenotifyCooldown means the category notifies
// once per continuous episode.
type Rule struct {
	Label            string // UI-visible active-alerts entry
	Title            string // notification title
	Message          string // notification body (posture uses reasons instead)
	NotifyDelay      time.Duration
	AppearDelay      time.Duration
	RenotifyCooldown time.Duration
}

// Record is the per-category state. Owned exclusively by the Bank; mutated
// only by its transition function.
type Record struct {
	Phase        Phase
	PendingSince *time.Time
	ActiveSince  *time.Time
	NotifiedAt   *time.Time
	Reasons      map[string]struct{}
}

// Event is one audit row produced by a fired notification.
type Event struct {
	Category Category
	Message  string
	At       time.Time
}

// Bank evaluates every category's condition each cycle. Single writer is
// the statistics loop; snapshots for the UI are taken via ActiveLabels.
type Bank struct {
	clock       timeutil.Clock
	notifier    Notifier
	rules       map[Category]Rule
	records     map[Category]*Record
	notifyDelay time.Duration
	appearDelay time.Duration
	counts      map[Category]int
}

// DefaultRules returns the category table with the shipped labels and
// per-category timing.
func DefaultRules() map[Category]Rule {
	return map[Category]Rule{
		BadPosture: {
			Label: "Bad Posture",
			Title: "Bad Posture",
		},
		TooClose: {
			Label:            "Distance Alerts - Too close to screen",
			Title:            "Too Close",
			Message:          "Move back from the screen.",
			RenotifyCooldown: TooCloseCooldown,
		},
		BodyTurned: {
			Label:   "Off Task - Body Turned",
			Title:   "Off Task",
			Message: "Body turned away from screen.",
		},
		NailBiting: {
			Label:            "Nail Biting Detected",
			Title:            "Nail Biting Detected",
			Message:          "Stop biting your nails.",
			NotifyDelay:      NailBitingSustain,
			AppearDelay:      -1, // contact alerts show immediately; sustain handles flicker
			RenotifyCooldown: ContactCooldown,
		},
		FaceTouch: {
			Label:            "Face Touch Detected",
			Title:            "Face Touch Detected",
			Message:          "Avoid touching your face.",
			NotifyDelay:      FaceTouchSustain,
			AppearDelay:      -1,
			RenotifyCooldown: ContactCooldown,
		},
		PartialFrame: {
			Label:   "Please come fully into frame",
			Title:   "Frame Warning",
			Message: "Please come fully into frame for accurate tracking.",
		},
	}
}

// NewBank constructs a Bank. notifyDelay and appearDelay are the defaults
// for categories whose Rule leaves them unset.
func NewBank(clock timeutil.Clock, notifier Notifier, notifyDelay, appearDelay time.Duration) *Bank {
	b := &Bank{
		clock:       clock,
		notifier:    notifier,
		rules:       DefaultRules(),
		records:     make(map[Category]*Record),
		notifyDelay: notifyDelay,
		appearDelay: appearDelay,
		counts:      make(map[Category]int),
	}
	for cat := range b.rules {
		b.records[cat] = &Record{Phase: PhaseIdle}
	}
	return b
}

// SetDelays updates the bank-default debounce delays (runtime tuning).
func (b *Bank) SetDelays(notifyDelay, appearDelay time.Duration) {
	b.notifyDelay = notifyDelay
	b.appearDelay = appearDelay
}

func (b *Bank) delaysFor(rule Rule) (notify, appear time.Duration) {
	notify, appear = b.notifyDelay, b.appearDelay
	if rule.NotifyDelay > 0 {
		notify = rule.NotifyDelay
	}
	if rule.AppearDelay > 0 {
		appear = rule.AppearDelay
	} else if rule.AppearDelay < 0 {
		appear = 0
	}
	return notify, appear
}

// Update runs one transition for a category from its current condition.
// reasons annotate the active alert (posture uses them for the notification
// body). It returns the audit event for a fired notification, or nil.
func (b *Bank) Update(cat Category, condition bool, reasons []string) *Event {
	rec, ok := b.records[cat]
	if !ok {
		return nil
	}
	rule := b.rules[cat]
	now := b.clock.Now()

	if !condition {
		// Any state -> Idle: clear all bookkeeping.
		rec.Phase = PhaseIdle
		rec.PendingSince = nil
		rec.ActiveSince = nil
		rec.NotifiedAt = nil
		rec.Reasons = nil
		return nil
	}

	if rec.Phase == PhaseIdle {
		rec.Phase = PhasePending
		t := now
		rec.PendingSince = &t
	}

	rec.Reasons = make(map[string]struct{}, len(reasons))
	for _, r := range reasons {
		rec.Reasons[r] = struct{}{}
	}

	notifyDelay, appearDelay := b.delaysFor(rule)

	// Pending -> Active: the UI list updates only on this transition.
	if rec.ActiveSince == nil && now.Sub(*rec.PendingSince) >= appearDelay {
		rec.Phase = PhaseActive
		t := now
		rec.ActiveSince = &t
	}

	// Active -> Notified: exactly one notification, then the cooldown pushes
	// the phase clock forward so a persisting condition re-arms later.
	if now.Sub(*rec.PendingSince) >= notifyDelay && (rec.NotifiedAt == nil || rule.RenotifyCooldown > 0) {
		rec.Phase = PhaseNotified
		t := now
		rec.NotifiedAt = &t
		b.counts[cat]++

		message := rule.Message
		if len(reasons) > 0 {
			message = joinReasons(reasons)
		}
		if b.notifier != nil {
			b.notifier.Notify(rule.Title, message)
		}
		if rule.RenotifyCooldown > 0 {
			shifted := now.Add(rule.RenotifyCooldown)
			rec.PendingSince = &shifted
		}
		return &Event{Category: cat, Message: rule.Label + eventSuffix(reasons), At: now}
	}

	return nil
}

func joinReasons(reasons []string) string {
	sorted := append([]string(nil), reasons...)
	sort.Strings(sorted)
	out := ""
	for i, r := range sorted {
		if i > 0 {
			out += ", "
		}
		out += r
	}
	return out
}

func eventSuffix(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	return " - " + joinReasons(reasons)
}

// Phase returns the current phase for a category.
func (b *Bank) Phase(cat Category) Phase {
	if rec, ok := b.records[cat]; ok {
		return rec.Phase
	}
	return PhaseIdle
}

// ActiveLabels returns the sorted UI labels of every category currently in
// the Active or Notified phase. The result is a fresh copy safe to hand to
// another goroutine.
func (b *Bank) ActiveLabels() []string {
	var labels []string
	for cat, rec := range b.records {
		if rec.Phase == PhaseActive || rec.Phase == PhaseNotified {
			labels = append(labels, b.rules[cat].Label)
		}
	}
	sort.Strings(labels)
	return labels
}

// NotifyCount returns how many notifications a category has fired this
// session.
func (b *Bank) NotifyCount(cat Category) int {
	return b.counts[cat]
}

// Reset returns every category to Idle and zeroes the session tallies.
// Used on session end and explicit data erase.
func (b *Bank) Reset() {
	for _, rec := range b.records {
		rec.Phase = PhaseIdle
		rec.PendingSince = nil
		rec.ActiveSince = nil
		rec.NotifiedAt = nil
		rec.Reasons = nil
	}
	b.counts = make(map[Category]int)
}

// HeadTurnTracker accrues how long head-turn components (eye tilt, twist,
// lateral offset) have been continuously bad while the body is not turned. A
// turn sustained past HeadTurnSustain becomes a posture reason of its own.
type HeadTurnTracker struct {
	clock timeutil.Clock
	start *time.Time
}

// NewHeadTurnTracker returns a tracker bound to a clock.
func NewHeadTurnTracker(clock timeutil.Clock) *HeadTurnTracker {
	return &HeadTurnTracker{clock: clock}
}

// Update advances the tracker and reports whether the sustained-turn
// threshold has been crossed.
func (h *HeadTurnTracker) Update(turning bool) bool {
	if !turning {
		h.start = nil
		return false
	}
	if h.start == nil {
		t := h.clock.Now()
		h.start = &t
	}
	return h.clock.Since(*h.start) > HeadTurnSustain
}

// Duration returns how long the current turn has lasted.
func (h *HeadTurnTracker) Duration() time.Duration {
	if h.start == nil {
		return 0
	}
	return h.clock.Since(*h.start)
}
