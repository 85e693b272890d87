package landmark

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlot_LatestWins(t *testing.T) {
	t.Parallel()
	s := NewSlot()

	first := &Observation{FaceWidthPX: 100}
	second := &Observation{FaceWidthPX: 200}
	s.Put(first)
	s.Put(second)

	got := s.Take()
	assert.Same(t, second, got)
}

func TestSlot_TakeEmpties(t *testing.T) {
	t.Parallel()
	s := NewSlot()
	s.Put(&Observation{})

	assert.NotNil(t, s.Take())
	assert.Nil(t, s.Take())
}

func TestSlot_TakeEmptyReturnsNil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, NewSlot().Take())
}

func TestSlot_Close(t *testing.T) {
	t.Parallel()
	s := NewSlot()
	s.Put(&Observation{})
	assert.False(t, s.Closed())

	s.Close()
	assert.True(t, s.Closed())
	assert.Nil(t, s.Take(), "close discards the pending frame")

	s.Put(&Observation{})
	assert.Nil(t, s.Take(), "put after close is a no-op")
}
