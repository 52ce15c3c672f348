package hedge

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"basis/pkg/errors"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusOpening, true},
		{StatusPending, StatusOpen, false},
		{StatusPending, StatusClosed, false},

		{StatusOpening, StatusOpen, true},
		{StatusOpening, StatusFailed, true},
		{StatusOpening, StatusClosing, false},
		{StatusOpening, StatusPending, false},

		{StatusOpen, StatusClosing, true},
		{StatusOpen, StatusClosed, false},
		{StatusOpen, StatusFailed, false},

		{StatusClosing, StatusClosed, true},
		{StatusClosing, StatusPartial, true},
		// Both close legs failing leaves the position retriable
		{StatusClosing, StatusOpen, true},
		{StatusClosing, StatusFailed, false},

		{StatusFailed, StatusOpening, false},
		{StatusClosed, StatusClosing, false},
		{StatusPartial, StatusClosing, false},
		{StatusPartial, StatusClosed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusClosed.Terminal())
	assert.True(t, StatusPartial.Terminal())

	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusOpening.Terminal())
	assert.False(t, StatusOpen.Terminal())
	assert.False(t, StatusClosing.Terminal())
}

func TestStatusInFlight(t *testing.T) {
	assert.True(t, StatusOpening.InFlight())
	assert.True(t, StatusClosing.InFlight())
	assert.False(t, StatusOpen.InFlight())
	assert.False(t, StatusPending.InFlight())
}

func TestPositionTransition(t *testing.T) {
	p := &Position{ID: uuid.New(), Status: StatusPending}

	require.NoError(t, p.Transition(StatusOpening))
	assert.Equal(t, StatusOpening, p.Status)

	require.NoError(t, p.Transition(StatusOpen))
	assert.Equal(t, StatusOpen, p.Status)
}

func TestPositionTransitionIllegal(t *testing.T) {
	p := &Position{ID: uuid.New(), Status: StatusClosed}

	err := p.Transition(StatusClosing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInternal))
	// Status unchanged after a rejected transition
	assert.Equal(t, StatusClosed, p.Status)
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusOpen.Valid())
	assert.False(t, Status("liquidated").Valid())
}
