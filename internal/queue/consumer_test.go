package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type fakeAcknowledger struct {
	acked    bool
	nacked   bool
	requeue  bool
	rejected bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.rejected = true
	f.requeue = requeue
	return nil
}

func TestConsumerHandleDelivery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		body         string
		headers      amqp.Table
		handlerErr   error
		wantHandled  bool
		wantAck      bool
		wantNack     bool
		wantReject   bool
		wantRequeue  bool
		wantDelivery string
	}{
		{
			name:         "valid reply is acked",
			body:         `{"recipientEmail":"a@x.com","content":"sounds good","deliveryId":"d-1"}`,
			wantHandled:  true,
			wantAck:      true,
			wantDelivery: "d-1",
		},
		{
			name:       "invalid json is dead-lettered",
			body:       `{not json`,
			wantReject: true,
		},
		{
			name:       "missing email is dead-lettered",
			body:       `{"content":"hello"}`,
			wantReject: true,
		},
		{
			name:        "validation error from handler is dead-lettered",
			body:        `{"recipientEmail":"a@x.com","content":"hi"}`,
			handlerErr:  fmt.Errorf("%w: bad reply", domain.ErrValidation),
			wantHandled: true,
			wantReject:  true,
		},
		{
			name:        "transient handler error is requeued",
			body:        `{"recipientEmail":"a@x.com","content":"hi"}`,
			handlerErr:  errors.New("db unavailable"),
			wantHandled: true,
			wantNack:    true,
			wantRequeue: true,
		},
		{
			name:        "redelivered failure under the limit is requeued",
			body:        `{"recipientEmail":"a@x.com","content":"hi"}`,
			headers:     amqp.Table{"x-delivery-count": int64(2)},
			handlerErr:  errors.New("db unavailable"),
			wantHandled: true,
			wantNack:    true,
			wantRequeue: true,
		},
		{
			name:        "failure on the last allowed delivery is dead-lettered",
			body:        `{"recipientEmail":"a@x.com","content":"hi"}`,
			headers:     amqp.Table{"x-delivery-count": int64(maxDeliveries - 1)},
			handlerErr:  errors.New("db unavailable"),
			wantHandled: true,
			wantReject:  true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ack := &fakeAcknowledger{}
			d := amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Headers: tt.headers, Body: []byte(tt.body)}

			handled := false
			var got ResponseMessage
			handler := func(ctx context.Context, msg ResponseMessage) error {
				handled = true
				got = msg
				return tt.handlerErr
			}

			consumer := NewRabbitMQConsumer(nil, 0, zap.NewNop())
			if err := consumer.handleDelivery(context.Background(), d, handler); err != nil {
				t.Fatalf("handleDelivery() error = %v", err)
			}

			if handled != tt.wantHandled {
				t.Fatalf("handled = %v, want %v", handled, tt.wantHandled)
			}
			if ack.acked != tt.wantAck || ack.nacked != tt.wantNack || ack.rejected != tt.wantReject {
				t.Fatalf("ack/nack/reject = %v/%v/%v, want %v/%v/%v",
					ack.acked, ack.nacked, ack.rejected, tt.wantAck, tt.wantNack, tt.wantReject)
			}
			if ack.requeue != tt.wantRequeue {
				t.Fatalf("requeue = %v, want %v", ack.requeue, tt.wantRequeue)
			}
			if tt.wantDelivery != "" {
				if got.DeliveryID == nil || *got.DeliveryID != tt.wantDelivery {
					t.Fatalf("DeliveryID = %v, want %s", got.DeliveryID, tt.wantDelivery)
				}
			}
		})
	}
}

func TestDeliveryCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers amqp.Table
		want    int64
	}{
		{name: "first delivery", want: 0},
		{name: "int64 header", headers: amqp.Table{"x-delivery-count": int64(3)}, want: 3},
		{name: "int32 header", headers: amqp.Table{"x-delivery-count": int32(2)}, want: 2},
		{name: "unexpected type", headers: amqp.Table{"x-delivery-count": "7"}, want: 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := deliveryCount(amqp.Delivery{Headers: tt.headers}); got != tt.want {
				t.Fatalf("deliveryCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConsumerConsumeRequiresClient(t *testing.T) {
	t.Parallel()

	consumer := NewRabbitMQConsumer(nil, 1, nil)
	err := consumer.Consume(context.Background(), "responses.inbound", func(ctx context.Context, msg ResponseMessage) error { return nil })
	if err == nil {
		t.Fatal("Consume() error = nil, want error for missing client")
	}
	if err := consumer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
