// Package kafka hands sign-in codes to the WhatsApp gateway as delivery
// commands on Kafka.
package kafka

import (
	"context"

	"github.com/leasehub/tenantauth/internal/event"
	"github.com/leasehub/tenantauth/internal/notifier"
)

// Publisher is satisfied by *event.Producer.
type Publisher interface {
	PublishWhatsAppDelivery(ctx context.Context, data event.WhatsAppDeliveryData) error
}

// Sender implements notifier.Sender.
type Sender struct {
	publisher Publisher
}

// NewSender creates a Kafka-backed sender.
func NewSender(publisher Publisher) *Sender {
	return &Sender{publisher: publisher}
}

// Name returns the sender name.
func (s *Sender) Name() string { return "kafka" }

// Send publishes a delivery command for msg.
func (s *Sender) Send(ctx context.Context, msg notifier.Message) error {
	return s.publisher.PublishWhatsAppDelivery(ctx, event.WhatsAppDeliveryData{
		Phone:     msg.Phone,
		Code:      msg.Code,
		Locale:    msg.Locale,
		ExpiresAt: msg.ExpiresAt,
	})
}
