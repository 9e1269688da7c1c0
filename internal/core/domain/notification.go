package domain

import "time"

// =============================================================================
// Notification Status
// =============================================================================

type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationFailed    NotificationStatus = "failed"
)

const (
	// MaxNotificationLength bounds every outgoing message.
	MaxNotificationLength = 500

	// MaxDeliveryAttempts bounds how often the dispatcher retries one
	// notification before marking it failed.
	MaxDeliveryAttempts = 3
)

// =============================================================================
// Notification
// =============================================================================

// Notification is one operator-facing message. Producing a notification
// is exactly-once (written in the same transaction as the transition that
// caused it); delivering it is at-least-once, driven by the dispatcher.
type Notification struct {
	ID          string             `json:"id"`
	RunID       string             `json:"run_id,omitempty"`
	MonitorID   string             `json:"monitor_id,omitempty"`
	Message     string             `json:"message"`
	Status      NotificationStatus `json:"status"`
	Attempts    int                `json:"attempts"`
	LastError   string             `json:"last_error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	DeliveredAt *time.Time         `json:"delivered_at,omitempty"`
}

// NewNotification creates a pending notification, truncating the message
// to the bounded length. Callers associate it with a run or monitor by
// setting RunID or MonitorID before saving.
func NewNotification(message string) *Notification {
	now := time.Now().UTC()
	return &Notification{
		ID:        newID("notify", now),
		Message:   Truncate(message, MaxNotificationLength),
		Status:    NotificationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RecordAttempt updates the notification after one delivery try. Delivery
// failures never propagate to the run that produced the message; the
// notification alone carries the failure.
func (n *Notification) RecordAttempt(err error, now time.Time) {
	n.Attempts++
	n.UpdatedAt = now

	if err == nil {
		n.Status = NotificationDelivered
		n.DeliveredAt = &now
		n.LastError = ""
		return
	}

	n.LastError = Truncate(err.Error(), MaxNotificationLength)
	if n.Attempts >= MaxDeliveryAttempts {
		n.Status = NotificationFailed
	}
}

// Truncate bounds s to at most max runes.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
