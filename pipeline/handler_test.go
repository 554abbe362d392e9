package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k5tuck/binelek-core-sub001/classify"
	"github.com/k5tuck/binelek-core-sub001/errors"
	"github.com/k5tuck/binelek-core-sub001/graph"
)

type fakeClassifier struct {
	errs  map[string]error
	calls []string
}

func (f *fakeClassifier) ClassifyEntity(_ context.Context, _, entityID string) (classify.Classification, error) {
	f.calls = append(f.calls, entityID)
	if err, ok := f.errs[entityID]; ok {
		return classify.Classification{}, err
	}
	return classify.Classification{RiskLevel: classify.RiskLow}, nil
}

type fakeInferrer struct {
	count  int
	err    error
	called int
	lastID []string
}

func (f *fakeInferrer) Infer(_ context.Context, _ string, entityIDs []string) (int, error) {
	f.called++
	f.lastID = entityIDs
	return f.count, f.err
}

type fakeRecorder struct {
	err      error
	called   int
	relCount int
}

func (f *fakeRecorder) RecordExecution(
	_ context.Context, _, _, _, _ string, _ time.Time, _, relationshipCount int, _ int64,
) error {
	f.called++
	f.relCount = relationshipCount
	return f.err
}

func completionPayload(t *testing.T, event graph.PipelineCompletionEvent) []byte {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return data
}

func newHandler(t *testing.T, c *fakeClassifier, i *fakeInferrer, r *fakeRecorder) *CompletionHandler {
	t.Helper()
	h, err := NewCompletionHandler(Deps{Classifier: c, Inferrer: i, Recorder: r})
	require.NoError(t, err)
	return h
}

func TestProcessEventHappyPath(t *testing.T) {
	classifier := &fakeClassifier{}
	inferrer := &fakeInferrer{count: 2}
	recorder := &fakeRecorder{}
	h := newHandler(t, classifier, inferrer, recorder)

	err := h.ProcessEvent(context.Background(), completionPayload(t, graph.PipelineCompletionEvent{
		PipelineID:      "p1",
		ExecutionID:     "x1",
		Status:          graph.PipelineStatusSucceeded,
		EntitiesCreated: []string{"e1", "e2", "e3"},
		CompletedAt:     time.Now().UTC(),
		TenantID:        "t1",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"e1", "e2", "e3"}, classifier.calls)
	assert.Equal(t, 1, inferrer.called, "inference runs once per batch")
	assert.Equal(t, []string{"e1", "e2", "e3"}, inferrer.lastID)
	assert.Equal(t, 1, recorder.called)
	assert.Equal(t, 2, recorder.relCount)
}

func TestProcessEventFailedStatusShortCircuits(t *testing.T) {
	classifier := &fakeClassifier{}
	inferrer := &fakeInferrer{}
	recorder := &fakeRecorder{}
	h := newHandler(t, classifier, inferrer, recorder)

	err := h.ProcessEvent(context.Background(), completionPayload(t, graph.PipelineCompletionEvent{
		PipelineID:      "p1",
		ExecutionID:     "x1",
		Status:          graph.PipelineStatusFailed,
		EntitiesCreated: []string{"e1"},
		ErrorMessage:    "source unavailable",
	}))
	require.NoError(t, err)

	assert.Empty(t, classifier.calls)
	assert.Zero(t, inferrer.called)
	assert.Zero(t, recorder.called)
}

func TestProcessEventEmptyBatchShortCircuits(t *testing.T) {
	classifier := &fakeClassifier{}
	inferrer := &fakeInferrer{}
	h := newHandler(t, classifier, inferrer, &fakeRecorder{})

	err := h.ProcessEvent(context.Background(), completionPayload(t, graph.PipelineCompletionEvent{
		PipelineID:  "p1",
		ExecutionID: "x1",
		Status:      graph.PipelineStatusSucceeded,
	}))
	require.NoError(t, err)
	assert.Empty(t, classifier.calls)
	assert.Zero(t, inferrer.called)
}

func TestProcessEventMalformedPayloadIsTerminal(t *testing.T) {
	h := newHandler(t, &fakeClassifier{}, &fakeInferrer{}, &fakeRecorder{})

	err := h.ProcessEvent(context.Background(), []byte(`{"entities_created": "nope"}`))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestProcessEventToleratesSkippedSiblings(t *testing.T) {
	// e2 was deleted before the event arrived; its classification fails
	// NotFound but e1 and e3 still get classified and inference still runs.
	classifier := &fakeClassifier{errs: map[string]error{
		"e2": errors.WrapNotFound(errors.ErrEntityNotFound, "Service", "ClassifyEntity", "fetch entity"),
	}}
	inferrer := &fakeInferrer{}
	recorder := &fakeRecorder{}
	h := newHandler(t, classifier, inferrer, recorder)

	err := h.ProcessEvent(context.Background(), completionPayload(t, graph.PipelineCompletionEvent{
		PipelineID:      "p1",
		ExecutionID:     "x1",
		Status:          graph.PipelineStatusSucceeded,
		EntitiesCreated: []string{"e1", "e2", "e3"},
		TenantID:        "t1",
	}))
	require.NoError(t, err, "terminal sibling failures must not redeliver the batch")

	assert.Equal(t, []string{"e1", "e2", "e3"}, classifier.calls)
	assert.Equal(t, 1, inferrer.called)
	assert.Equal(t, 1, recorder.called)
}

func TestProcessEventTransientClassificationRedelivers(t *testing.T) {
	classifier := &fakeClassifier{errs: map[string]error{
		"e1": errors.WrapTransient(errors.ErrStorageUnavailable, "Service", "ClassifyEntity", "persist classification"),
	}}
	inferrer := &fakeInferrer{}
	h := newHandler(t, classifier, inferrer, &fakeRecorder{})

	err := h.ProcessEvent(context.Background(), completionPayload(t, graph.PipelineCompletionEvent{
		PipelineID:      "p1",
		ExecutionID:     "x1",
		Status:          graph.PipelineStatusSucceeded,
		EntitiesCreated: []string{"e1", "e2"},
		TenantID:        "t1",
	}))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	// Siblings are still processed before the redelivery signal.
	assert.Equal(t, []string{"e1", "e2"}, classifier.calls)
	assert.Equal(t, 1, inferrer.called)
}

func TestProcessEventInferenceFailureRedelivers(t *testing.T) {
	inferrer := &fakeInferrer{
		err: errors.WrapTransient(errors.ErrStorageUnavailable, "RuleInferrer", "Infer", "create edge"),
	}
	recorder := &fakeRecorder{}
	h := newHandler(t, &fakeClassifier{}, inferrer, recorder)

	err := h.ProcessEvent(context.Background(), completionPayload(t, graph.PipelineCompletionEvent{
		PipelineID:      "p1",
		ExecutionID:     "x1",
		Status:          graph.PipelineStatusSucceeded,
		EntitiesCreated: []string{"e1"},
	}))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Zero(t, recorder.called, "bookkeeping waits for a clean pass")
}

func TestProcessEventRecorderFailureIsSwallowed(t *testing.T) {
	recorder := &fakeRecorder{
		err: errors.WrapTransient(errors.ErrStorageUnavailable, "PipelineMetadataStore", "RecordExecution", "merge execution record"),
	}
	h := newHandler(t, &fakeClassifier{}, &fakeInferrer{}, recorder)

	err := h.ProcessEvent(context.Background(), completionPayload(t, graph.PipelineCompletionEvent{
		PipelineID:      "p1",
		ExecutionID:     "x1",
		Status:          graph.PipelineStatusSucceeded,
		EntitiesCreated: []string{"e1"},
	}))
	assert.NoError(t, err, "metadata failures are logged, not redelivered")
	assert.Equal(t, 1, recorder.called)
}
