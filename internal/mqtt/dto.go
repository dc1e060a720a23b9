package mqtt

import (
	"time"

	"github.com/tphakala/eqroute/internal/events"
)

// NotificationDTO is the JSON payload published for a notification.
// Field names are part of the topic contract; add fields, don't rename them.
type NotificationDTO struct {
	Kind      string `json:"kind"`
	Timestamp string `json:"timestamp"` // RFC3339

	Enabled    *bool    `json:"enabled,omitempty"`
	Gain       *float64 `json:"gain,omitempty"`
	DeviceID   uint32   `json:"deviceId,omitempty"`
	DeviceName string   `json:"deviceName,omitempty"`
	SampleRate float64  `json:"sampleRate,omitempty"`

	Message   string `json:"message,omitempty"`
	Component string `json:"component,omitempty"`
	Category  string `json:"category,omitempty"`
}

// NewNotificationDTO maps n to its payload. Booleans and gains are
// pointers so false and zero survive omitempty for the kinds that carry them.
func NewNotificationDTO(n events.Notification) *NotificationDTO {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	dto := &NotificationDTO{
		Kind:       string(n.Kind),
		Timestamp:  ts.Format(time.RFC3339),
		DeviceID:   n.DeviceID,
		DeviceName: n.DeviceName,
		SampleRate: n.SampleRate,
		Message:    n.Message,
		Component:  n.Component,
		Category:   n.Category,
	}
	switch n.Kind {
	case events.KindEnabledChanged:
		enabled := n.Enabled
		dto.Enabled = &enabled
	case events.KindGainChanged:
		gain := n.Gain
		dto.Gain = &gain
	}
	return dto
}
