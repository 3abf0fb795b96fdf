package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

func TestOfferExpiryPayloadRoundTrip(t *testing.T) {
	offerID := uuid.New().String()

	task, err := NewOfferExpiryTask(OfferExpiryPayload{OfferID: offerID})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if task.Type() != TaskOfferExpiry {
		t.Fatalf("expected type %s, got %s", TaskOfferExpiry, task.Type())
	}

	payload, err := ParseOfferExpiryPayload(task)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if payload.OfferID != offerID {
		t.Fatalf("expected offer id %s, got %s", offerID, payload.OfferID)
	}
}

func TestNotificationOutboxDuePayloadRoundTrip(t *testing.T) {
	outboxID, recipientID := uuid.New().String(), uuid.New().String()

	task, err := NewNotificationOutboxDueTask(NotificationOutboxDuePayload{
		OutboxID:    outboxID,
		RecipientID: recipientID,
	})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	payload, err := ParseNotificationOutboxDuePayload(task)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if payload.OutboxID != outboxID || payload.RecipientID != recipientID {
		t.Fatalf("payload mismatch: %+v", payload)
	}
}

func TestParseRejectsForeignPayload(t *testing.T) {
	task := asynq.NewTask(TaskOfferExpiry, []byte("not json"))
	if _, err := ParseOfferExpiryPayload(task); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestClientSchedulesAgainstRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client := &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()}),
		queue:  "default",
	}
	defer client.Close()

	runAt := time.Now().Add(12 * time.Hour)
	if err := client.ScheduleOfferExpiry(context.Background(), uuid.New(), runAt); err != nil {
		t.Fatalf("schedule expiry: %v", err)
	}
	if err := client.ScheduleOfferExpiryWarning(context.Background(), uuid.New(), runAt.Add(-time.Hour)); err != nil {
		t.Fatalf("schedule warning: %v", err)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer inspector.Close()

	scheduled, err := inspector.ListScheduledTasks("default")
	if err != nil {
		t.Fatalf("list scheduled: %v", err)
	}
	if len(scheduled) != 2 {
		t.Fatalf("expected 2 scheduled tasks, got %d", len(scheduled))
	}
}
