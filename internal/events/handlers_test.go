package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
	"github.com/phrazzld/maintenance-orchestrator/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	destinations []string
	payloads     [][]byte
	err          error
}

func (f *fakeEnqueuer) Enqueue(destination string, payload []byte) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.destinations = append(f.destinations, destination)
	f.payloads = append(f.payloads, payload)
	return uuid.New(), nil
}

func TestLogHandler(t *testing.T) {
	buf, log := logger.NewTestLogger()
	handler := NewLogHandler(log)

	require.NoError(t, handler.HandleEvent(context.Background(), NewTransitionEvent(testWorkflow(), domain.StateCreated)))

	entries := buf.FindEntries("workflow transitioned")
	require.Len(t, entries, 1)
	assert.Equal(t, "CREATED", entries[0]["from"])
	assert.Equal(t, "IN_PROGRESS", entries[0]["to"])
	assert.Equal(t, "transition_log", entries[0]["component"])
}

func TestFailureAlertHandler(t *testing.T) {
	_, err := NewFailureAlertHandler(nil, "ops")
	assert.Error(t, err)
	_, err = NewFailureAlertHandler(&fakeEnqueuer{}, "")
	assert.Error(t, err)

	t.Run("ignores non-failure transitions", func(t *testing.T) {
		queue := &fakeEnqueuer{}
		handler, err := NewFailureAlertHandler(queue, "ops")
		require.NoError(t, err)

		require.NoError(t, handler.HandleEvent(context.Background(), NewTransitionEvent(testWorkflow(), domain.StateCreated)))
		assert.Empty(t, queue.payloads)
	})

	t.Run("queues alert on failure", func(t *testing.T) {
		queue := &fakeEnqueuer{}
		handler, err := NewFailureAlertHandler(queue, "ops")
		require.NoError(t, err)

		wf := testWorkflow()
		wf.CurrentState = domain.StateFailed
		wf.TransitionMetadata["error"] = "provider down"

		require.NoError(t, handler.HandleEvent(context.Background(), NewTransitionEvent(wf, domain.StateInProgress)))
		require.Len(t, queue.payloads, 1)
		assert.Equal(t, "ops", queue.destinations[0])

		var decoded TransitionEvent
		require.NoError(t, json.Unmarshal(queue.payloads[0], &decoded))
		assert.Equal(t, domain.StateFailed, decoded.To)
		assert.Equal(t, "provider down", decoded.Metadata["error"])
	})

	t.Run("queue errors are returned", func(t *testing.T) {
		queue := &fakeEnqueuer{err: errors.New("full")}
		handler, err := NewFailureAlertHandler(queue, "ops")
		require.NoError(t, err)

		wf := testWorkflow()
		wf.CurrentState = domain.StateFailed
		err = handler.HandleEvent(context.Background(), NewTransitionEvent(wf, domain.StateInProgress))
		assert.ErrorContains(t, err, "full")
	})
}
