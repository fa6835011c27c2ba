package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sketchsync/internal/retry"
	"github.com/sketchsync/pkg/models"
)

func TestEnrollNext_RoundRobinsInPriorityOrder(t *testing.T) {
	queue := newFakeQueue()
	queue.pending = []*models.ReviewEvent{
		{ID: "ev-2", Topic: models.TopicItemApprovalStatusChange, DependsOn: "src-2"},
	}
	registry := NewRegistry(
		&stubHandler{topic: models.TopicReviewSessionEnd},
		&stubHandler{topic: models.TopicItemApprovalStatusChange},
	)
	proc := New(queue, registry, time.Millisecond)

	event, err := proc.enrollNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "ev-2", event.ID)

	// session end was asked first even though only the approval topic had
	// a pending event
	require.Len(t, queue.enrolled, 2)
	assert.Equal(t, models.TopicReviewSessionEnd, queue.enrolled[0])
	assert.Equal(t, models.TopicItemApprovalStatusChange, queue.enrolled[1])
}

func TestDispatch_FinishedOnSuccess(t *testing.T) {
	queue := newFakeQueue()
	queue.sources["src-1"] = &models.ReviewEvent{
		ID:      "src-1",
		Payload: json.RawMessage(`{"action": "review_session_end"}`),
	}
	handler := &stubHandler{topic: models.TopicReviewSessionEnd}
	proc := New(queue, NewRegistry(handler), time.Millisecond)

	proc.dispatch(context.Background(), &models.ReviewEvent{
		ID: "ev-1", Topic: models.TopicReviewSessionEnd, DependsOn: "src-1"})

	assert.Equal(t, 1, handler.calls)
	assert.Equal(t, models.EventStatusFinished, queue.statuses["ev-1"])
}

func TestDispatch_FailedOnHandlerError(t *testing.T) {
	queue := newFakeQueue()
	queue.sources["src-1"] = &models.ReviewEvent{
		ID:      "src-1",
		Payload: json.RawMessage(`{"action": "review_session_end"}`),
	}
	handler := &stubHandler{topic: models.TopicReviewSessionEnd, err: errors.New("boom")}
	proc := New(queue, NewRegistry(handler), time.Millisecond)

	proc.dispatch(context.Background(), &models.ReviewEvent{
		ID: "ev-1", Topic: models.TopicReviewSessionEnd, DependsOn: "src-1"})

	assert.Equal(t, models.EventStatusFailed, queue.statuses["ev-1"])
}

func TestDispatch_EmptyPayloadFinishesWithoutHandler(t *testing.T) {
	queue := newFakeQueue()
	queue.sources["src-1"] = &models.ReviewEvent{ID: "src-1"}
	handler := &stubHandler{topic: models.TopicReviewSessionEnd}
	proc := New(queue, NewRegistry(handler), time.Millisecond)

	proc.dispatch(context.Background(), &models.ReviewEvent{
		ID: "ev-1", Topic: models.TopicReviewSessionEnd, DependsOn: "src-1"})

	assert.Zero(t, handler.calls)
	assert.Equal(t, models.EventStatusFinished, queue.statuses["ev-1"])
}

func TestDispatch_RetriesTransientStatusReportFailure(t *testing.T) {
	queue := newFakeQueue()
	queue.sources["src-1"] = &models.ReviewEvent{
		ID:      "src-1",
		Payload: json.RawMessage(`{"action": "review_session_end"}`),
	}
	queue.updateErrs = []error{errors.New("503 service unavailable")}
	handler := &stubHandler{topic: models.TopicReviewSessionEnd}
	proc := New(queue, NewRegistry(handler), time.Millisecond)
	proc.statusRetry = retry.RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}

	proc.dispatch(context.Background(), &models.ReviewEvent{
		ID: "ev-1", Topic: models.TopicReviewSessionEnd, DependsOn: "src-1"})

	assert.Equal(t, 2, queue.updateCalls)
	assert.Equal(t, models.EventStatusFinished, queue.statuses["ev-1"])
}

func TestDispatch_MissingSourceEventFails(t *testing.T) {
	queue := newFakeQueue()
	handler := &stubHandler{topic: models.TopicReviewSessionEnd}
	proc := New(queue, NewRegistry(handler), time.Millisecond)

	proc.dispatch(context.Background(), &models.ReviewEvent{
		ID: "ev-1", Topic: models.TopicReviewSessionEnd, DependsOn: "src-gone"})

	assert.Equal(t, models.EventStatusFailed, queue.statuses["ev-1"])
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	queue := newFakeQueue()
	queue.pending = []*models.ReviewEvent{
		{ID: "ev-1", Topic: models.TopicReviewSessionEnd, DependsOn: "src-1"},
	}
	queue.sources["src-1"] = &models.ReviewEvent{
		ID:      "src-1",
		Payload: json.RawMessage(`{"action": "review_session_end"}`),
	}
	handler := &stubHandler{topic: models.TopicReviewSessionEnd}
	proc := New(queue, NewRegistry(handler), time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := proc.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, 1, handler.calls)
	assert.Equal(t, models.EventStatusFinished, queue.statuses["ev-1"])
}
