package hedge

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelReporterDelivers(t *testing.T) {
	r := NewChannelReporter(4)
	positionID := uuid.New()

	r.Emit(context.Background(), ProgressEvent{PositionID: positionID, Stage: StageSubmitted})

	select {
	case ev := <-r.Events():
		assert.Equal(t, positionID, ev.PositionID)
		assert.Equal(t, StageSubmitted, ev.Stage)
	default:
		t.Fatal("expected an event")
	}
}

func TestChannelReporterDropsWhenFull(t *testing.T) {
	r := NewChannelReporter(1)

	// Second emit must not block with no observer draining
	r.Emit(context.Background(), ProgressEvent{Stage: StageValidating})
	r.Emit(context.Background(), ProgressEvent{Stage: StageSubmitted})

	ev := <-r.Events()
	require.Equal(t, StageValidating, ev.Stage)

	select {
	case <-r.Events():
		t.Fatal("overflow event should have been dropped")
	default:
	}
}

func TestMultiReporterFansOut(t *testing.T) {
	a := NewChannelReporter(1)
	b := NewChannelReporter(1)
	multi := MultiReporter{a, b}

	multi.Emit(context.Background(), ProgressEvent{Stage: StageSuccess})

	assert.Len(t, a.ch, 1)
	assert.Len(t, b.ch, 1)
}
