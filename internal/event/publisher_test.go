package event

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authgate/pkg/kafka"
	"github.com/utafrali/authgate/pkg/logger"
)

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) Publish(ctx context.Context, topic string, ev *kafka.Event) error {
	args := m.Called(ctx, topic, ev)
	return args.Error(0)
}

func TestKafkaPublisher_Publish(t *testing.T) {
	prod := &mockProducer{}
	var captured *kafka.Event
	prod.On("Publish", mock.Anything, SessionIssued, mock.AnythingOfType("*kafka.Event")).
		Run(func(args mock.Arguments) { captured = args.Get(2).(*kafka.Event) }).
		Return(nil)

	p := NewKafkaPublisher(prod, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	ctx := logger.WithCorrelationID(context.Background(), "corr-7")
	p.Publish(ctx, SessionIssued, "user-1", map[string]string{"user_id": "user-1"})

	prod.AssertExpectations(t)
	require.NotNil(t, captured)
	assert.Equal(t, SessionIssued, captured.EventType)
	assert.Equal(t, "user-1", captured.AggregateID)
	assert.Equal(t, "authgate", captured.Source)
	assert.Equal(t, "corr-7", captured.CorrelationID)
}

func TestKafkaPublisher_ErrorIsLoggedNotReturned(t *testing.T) {
	prod := &mockProducer{}
	prod.On("Publish", mock.Anything, PasswordReset, mock.Anything).Return(errors.New("broker down"))

	var buf bytes.Buffer
	p := NewKafkaPublisher(prod, slog.New(slog.NewJSONHandler(&buf, nil)))
	p.Publish(context.Background(), PasswordReset, "user-2", struct{}{})

	assert.Contains(t, buf.String(), "failed to publish event")
	assert.Contains(t, buf.String(), "broker down")
}

func TestKafkaPublisher_UnencodableData(t *testing.T) {
	prod := &mockProducer{}

	var buf bytes.Buffer
	p := NewKafkaPublisher(prod, slog.New(slog.NewJSONHandler(&buf, nil)))
	p.Publish(context.Background(), UserRegistered, "user-3", make(chan int))

	prod.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	assert.Contains(t, buf.String(), "failed to build event")
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	p.Publish(context.Background(), UserRegistered, "u", nil)
}
