package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/timeutil"
)

type mockNotifier struct {
	titles   []string
	messages []string
}

func (m *mockNotifier) Notify(title, message string) {
	m.titles = append(m.titles, title)
	m.messages = append(m.messages, message)
}

func newTestBank() (*Bank, *mockNotifier, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local))
	notifier := &mockNotifier{}
	bank := NewBank(clock, notifier, 6*time.Second, time.Second)
	return bank, notifier, clock
}

func TestBank_AppearDelay(t *testing.T) {
	t.Parallel()
	bank, _, clock := newTestBank()

	require.Nil(t, bank.Update(BadPosture, true, []string{"Sit up straight"}))
	assert.Equal(t, PhasePending, bank.Phase(BadPosture))
	assert.Empty(t, bank.ActiveLabels(), "debouncing keeps the list quiet")

	clock.Advance(time.Second)
	require.Nil(t, bank.Update(BadPosture, true, []string{"Sit up straight"}))
	assert.Equal(t, PhaseActive, bank.Phase(BadPosture))
	assert.Equal(t, []string{"Bad Posture"}, bank.ActiveLabels())
}

func TestBank_NotifyOncePerEpisode(t *testing.T) {
	t.Parallel()
	bank, notifier, clock := newTestBank()

	var events []*Event
	for i := 0; i < 20; i++ {
		if ev := bank.Update(BadPosture, true, []string{"Level your head", "Sit up straight"}); ev != nil {
			events = append(events, ev)
		}
		clock.Advance(time.Second)
	}

	require.Len(t, events, 1, "one continuous episode fires exactly one notification")
	assert.Equal(t, BadPosture, events[0].Category)
	assert.Equal(t, "Bad Posture - Level your head, Sit up straight", events[0].Message)
	require.Len(t, notifier.messages, 1)
	assert.Equal(t, "Level your head, Sit up straight", notifier.messages[0])
	assert.Equal(t, 1, bank.NotifyCount(BadPosture))
	assert.Equal(t, PhaseNotified, bank.Phase(BadPosture))
}

func TestBank_FlickerBeforeAppearDelayStaysHidden(t *testing.T) {
	t.Parallel()
	bank, notifier, clock := newTestBank()

	for i := 0; i < 10; i++ {
		bank.Update(BadPosture, true, nil)
		clock.Advance(500 * time.Millisecond)
		bank.Update(BadPosture, false, nil)
		clock.Advance(500 * time.Millisecond)
	}

	assert.Equal(t, PhaseIdle, bank.Phase(BadPosture))
	assert.Empty(t, bank.ActiveLabels())
	assert.Empty(t, notifier.titles)
}

func TestBank_ConditionClearReturnsToIdle(t *testing.T) {
	t.Parallel()
	bank, _, clock := newTestBank()

	bank.Update(BadPosture, true, nil)
	clock.Advance(2 * time.Second)
	bank.Update(BadPosture, true, nil)
	require.Equal(t, PhaseActive, bank.Phase(BadPosture))

	bank.Update(BadPosture, false, nil)
	assert.Equal(t, PhaseIdle, bank.Phase(BadPosture))
	assert.Empty(t, bank.ActiveLabels())

	// A fresh episode debounces from scratch.
	bank.Update(BadPosture, true, nil)
	assert.Equal(t, PhasePending, bank.Phase(BadPosture))
}

func TestBank_TooCloseRenotifiesAfterCooldown(t *testing.T) {
	t.Parallel()
	bank, notifier, clock := newTestBank()

	fired := 0
	// 80 seconds of continuously sitting too close, one update per second.
	for i := 0; i <= 80; i++ {
		if ev := bank.Update(TooClose, true, nil); ev != nil {
			fired++
		}
		clock.Advance(time.Second)
	}

	// First at t=6s, then cooldown shifts the phase clock 60s forward:
	// next at t=6+60+6=72s.
	assert.Equal(t, 2, fired)
	assert.Equal(t, 2, bank.NotifyCount(TooClose))
	require.NotEmpty(t, notifier.messages)
	assert.Equal(t, "Move back from the screen.", notifier.messages[0])
}

func TestBank_ContactAlertsAppearImmediately(t *testing.T) {
	t.Parallel()
	bank, notifier, clock := newTestBank()

	require.Nil(t, bank.Update(NailBiting, true, nil))
	assert.Equal(t, PhaseActive, bank.Phase(NailBiting), "negative appear delay shows on first frame")
	assert.Equal(t, []string{"Nail Biting Detected"}, bank.ActiveLabels())
	assert.Empty(t, notifier.titles, "notification still waits for the sustain window")

	// Sustain is 5s for nail biting, 3s for face touch.
	clock.Advance(5 * time.Second)
	ev := bank.Update(NailBiting, true, nil)
	require.NotNil(t, ev)
	assert.Equal(t, "Nail Biting Detected", ev.Message)
	assert.Equal(t, []string{"Stop biting your nails."}, notifier.messages)
}

func TestBank_FaceTouchSustain(t *testing.T) {
	t.Parallel()
	bank, notifier, clock := newTestBank()

	bank.Update(FaceTouch, true, nil)
	clock.Advance(2 * time.Second)
	require.Nil(t, bank.Update(FaceTouch, true, nil))

	clock.Advance(time.Second)
	ev := bank.Update(FaceTouch, true, nil)
	require.NotNil(t, ev)
	assert.Equal(t, []string{"Avoid touching your face."}, notifier.messages)
}

func TestBank_Reset(t *testing.T) {
	t.Parallel()
	bank, _, clock := newTestBank()

	for i := 0; i < 10; i++ {
		bank.Update(BadPosture, true, nil)
		clock.Advance(time.Second)
	}
	require.Equal(t, 1, bank.NotifyCount(BadPosture))
	require.NotEmpty(t, bank.ActiveLabels())

	bank.Reset()
	assert.Equal(t, PhaseIdle, bank.Phase(BadPosture))
	assert.Empty(t, bank.ActiveLabels())
	assert.Zero(t, bank.NotifyCount(BadPosture))
}

func TestBank_UnknownCategory(t *testing.T) {
	t.Parallel()
	bank, _, _ := newTestBank()
	assert.Nil(t, bank.Update(Category("mystery"), true, nil))
	assert.Equal(t, PhaseIdle, bank.Phase(Category("mystery")))
}

func TestHeadTurnTracker(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local))
	tracker := NewHeadTurnTracker(clock)

	assert.False(t, tracker.Update(true))
	clock.Advance(29 * time.Second)
	assert.False(t, tracker.Update(true))

	clock.Advance(2 * time.Second)
	assert.True(t, tracker.Update(true))
	assert.Equal(t, 31*time.Second, tracker.Duration())

	// Facing forward resets the accrual.
	assert.False(t, tracker.Update(false))
	assert.Zero(t, tracker.Duration())
	assert.False(t, tracker.Update(true))
}
