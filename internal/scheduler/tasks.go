package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskOfferExpiry = "offers.expiry"

const TaskOfferExpiryWarning = "offers.expiry.warning"

const TaskNotificationOutboxDue = "notification.outbox.due"

type OfferExpiryPayload struct {
	OfferID string `json:"offerId"`
}

type OfferExpiryWarningPayload struct {
	OfferID string `json:"offerId"`
}

type NotificationOutboxDuePayload struct {
	OutboxID    string `json:"outboxId"`
	RecipientID string `json:"recipientId"`
}

func NewOfferExpiryTask(payload OfferExpiryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOfferExpiry, data), nil
}

func ParseOfferExpiryPayload(task *asynq.Task) (OfferExpiryPayload, error) {
	var payload OfferExpiryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OfferExpiryPayload{}, err
	}
	return payload, nil
}

func NewOfferExpiryWarningTask(payload OfferExpiryWarningPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOfferExpiryWarning, data), nil
}

func ParseOfferExpiryWarningPayload(task *asynq.Task) (OfferExpiryWarningPayload, error) {
	var payload OfferExpiryWarningPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OfferExpiryWarningPayload{}, err
	}
	return payload, nil
}

func NewNotificationOutboxDueTask(payload NotificationOutboxDuePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationOutboxDue, data), nil
}

func ParseNotificationOutboxDuePayload(task *asynq.Task) (NotificationOutboxDuePayload, error) {
	var payload NotificationOutboxDuePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return NotificationOutboxDuePayload{}, err
	}
	return payload, nil
}
