// File: internal/telemetry/telemetry_test.go
package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halcyonqa/pilot-cli/api/schemas"
)

type countingSink struct {
	records []schemas.InteractionRecord
	err     error
}

func (s *countingSink) Track(_ context.Context, rec schemas.InteractionRecord) error {
	s.records = append(s.records, rec)
	return s.err
}

func TestMultiSink(t *testing.T) {
	rec := schemas.InteractionRecord{Type: "click", SessionID: "run-1"}

	t.Run("fans out to every sink", func(t *testing.T) {
		a, b := &countingSink{}, &countingSink{}
		m := NewMultiSink(zap.NewNop(), a, b)

		require.NoError(t, m.Track(context.Background(), rec))
		assert.Len(t, a.records, 1)
		assert.Len(t, b.records, 1)
	})

	t.Run("one failing sink never blocks the others", func(t *testing.T) {
		failing := &countingSink{err: errors.New("sink down")}
		healthy := &countingSink{}
		m := NewMultiSink(zap.NewNop(), failing, healthy)

		require.NoError(t, m.Track(context.Background(), rec))
		assert.Len(t, healthy.records, 1)
	})

	t.Run("empty sink list is fine", func(t *testing.T) {
		assert.NoError(t, NewMultiSink(zap.NewNop()).Track(context.Background(), rec))
	})
}

type fakeTracker struct {
	records []schemas.InteractionRecord
	err     error
}

func (f *fakeTracker) TrackInteraction(_ context.Context, rec schemas.InteractionRecord) error {
	f.records = append(f.records, rec)
	return f.err
}

func TestChannelSink(t *testing.T) {
	tracker := &fakeTracker{}
	sink := NewChannelSink(tracker)

	rec := schemas.InteractionRecord{Type: "assert", PromptOrTarget: "logged in"}
	require.NoError(t, sink.Track(context.Background(), rec))
	require.Len(t, tracker.records, 1)
	assert.Equal(t, "assert", tracker.records[0].Type)

	tracker.err = errors.New("channel closed")
	assert.Error(t, sink.Track(context.Background(), rec))
}

func TestLogSink(t *testing.T) {
	sink := NewLogSink(zap.NewNop())
	assert.NoError(t, sink.Track(context.Background(), schemas.InteractionRecord{Type: "wait"}))
}
