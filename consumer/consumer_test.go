package consumer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k5tuck/binelek-core-sub001/errors"
	"github.com/k5tuck/binelek-core-sub001/natsclient"
)

type recordingHandler struct {
	err    error
	calls  int
	lastIn []byte
}

func (h *recordingHandler) ProcessEvent(_ context.Context, data []byte) error {
	h.calls++
	h.lastIn = data
	return h.err
}

func newTestConsumer(t *testing.T, handler Handler, schema string) *Consumer {
	t.Helper()

	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	c, err := New(Config{
		Name:    "test-consumer",
		Stream:  "ontology-events",
		Subject: "enrichment.requested",
		Durable: "ontology-enrichment",
		Schema:  schema,
	}, Deps{Client: client, Handler: handler})
	require.NoError(t, err)
	require.NoError(t, c.Initialize())
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = New(Config{Name: "x"}, Deps{Client: client, Handler: &recordingHandler{}})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = New(Config{Stream: "s", Subject: "sub", Durable: "d"}, Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestInitializeRejectsBadSchema(t *testing.T) {
	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	c, err := New(Config{
		Name: "bad", Stream: "s", Subject: "sub", Durable: "d",
		Schema: `{"type": `,
	}, Deps{Client: client, Handler: &recordingHandler{}})
	require.NoError(t, err)

	initErr := c.Initialize()
	require.Error(t, initErr)
	assert.True(t, errors.IsFatal(initErr))
}

func TestHandleMessageDropsInvalidPayload(t *testing.T) {
	handler := &recordingHandler{}
	c := newTestConsumer(t, handler, EnrichmentRequestSchema)

	// entity_id must be a string; a number fails validation and the message
	// is acked without reaching the handler.
	err := c.handleMessage(context.Background(), []byte(`{"entity_id": 42}`))
	assert.NoError(t, err)
	assert.Zero(t, handler.calls)
}

func TestHandleMessageDropsUnparseablePayload(t *testing.T) {
	handler := &recordingHandler{}
	c := newTestConsumer(t, handler, EnrichmentRequestSchema)

	err := c.handleMessage(context.Background(), []byte(`not json`))
	assert.NoError(t, err)
	assert.Zero(t, handler.calls)
}

func TestHandleMessageAcksSuccess(t *testing.T) {
	handler := &recordingHandler{}
	c := newTestConsumer(t, handler, EnrichmentRequestSchema)

	payload := []byte(`{"entity_id": "e1", "enrichment_type": "geocoding", "tenant_id": "t1"}`)
	err := c.handleMessage(context.Background(), payload)
	assert.NoError(t, err)
	assert.Equal(t, 1, handler.calls)
	assert.Equal(t, payload, handler.lastIn)
}

func TestHandleMessageDropsTerminalErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not found", errors.WrapNotFound(errors.ErrEntityNotFound, "h", "p", "fetch")},
		{"invalid", errors.WrapInvalid(errors.ErrMissingField, "h", "p", "decode")},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			handler := &recordingHandler{err: test.err}
			c := newTestConsumer(t, handler, "")

			err := c.handleMessage(context.Background(), []byte(`{}`))
			assert.NoError(t, err, "terminal errors must ack, not redeliver")
			assert.Equal(t, 1, handler.calls)
		})
	}
}

func TestHandleMessageRedeliversTransientErrors(t *testing.T) {
	handler := &recordingHandler{
		err: errors.WrapTransient(errors.ErrStorageUnavailable, "h", "p", "write"),
	}
	c := newTestConsumer(t, handler, "")

	err := c.handleMessage(context.Background(), []byte(`{}`))
	require.Error(t, err, "transient errors must trigger redelivery")
}

func TestStartWithoutConnectionFails(t *testing.T) {
	c := newTestConsumer(t, &recordingHandler{}, "")

	err := c.Start(context.Background())
	require.Error(t, err)

	// A failed start leaves the consumer restartable.
	err = c.Start(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, errors.ErrAlreadyStarted)
}
