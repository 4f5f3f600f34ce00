package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leasehub/tenantauth/internal/phone"
	pkgkafka "github.com/leasehub/tenantauth/pkg/kafka"
	"github.com/leasehub/tenantauth/pkg/logger"
)

// Kafka topics written by this service.
var (
	TopicTenantSignedIn   = pkgkafka.Topic("tenant", "signed_in")
	TopicWhatsAppDelivery = pkgkafka.Topic("notification", "whatsapp_otp")
)

// Aggregate types.
const (
	AggregateTypeTenant = "tenant"
	AggregateTypePhone  = "phone"
)

// SourceTenantAuth identifies events originating from this service.
const SourceTenantAuth = "tenantauth"

// TenantSignedInData is the payload of a tenant.signed_in event.
type TenantSignedInData struct {
	TenantID  string    `json:"tenant_id"`
	RealmID   string    `json:"realm_id"`
	Phone     string    `json:"phone"`
	Channel   string    `json:"channel"`
	SessionID string    `json:"session_id"`
	SignedAt  time.Time `json:"signed_at"`
}

// WhatsAppDeliveryData asks the WhatsApp gateway to deliver a sign-in code.
type WhatsAppDeliveryData struct {
	Phone     string    `json:"phone"`
	Code      string    `json:"code"`
	Locale    string    `json:"locale,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Publisher is satisfied by *pkgkafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes tenantauth events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

// PublishTenantSignedIn publishes a tenant.signed_in audit event.
func (p *Producer) PublishTenantSignedIn(ctx context.Context, data TenantSignedInData) error {
	event, err := pkgkafka.NewEvent(TopicTenantSignedIn, data.TenantID, AggregateTypeTenant, SourceTenantAuth, data)
	if err != nil {
		return fmt.Errorf("create tenant.signed_in event: %w", err)
	}
	event.WithCorrelationID(logger.CorrelationIDFromContext(ctx))

	if err := p.kafka.Publish(ctx, TopicTenantSignedIn, event); err != nil {
		return fmt.Errorf("publish tenant.signed_in event: %w", err)
	}

	p.logger.DebugContext(ctx, "published tenant.signed_in event",
		slog.String("tenant_id", data.TenantID),
		slog.String("phone", phone.Mask(data.Phone)),
	)
	return nil
}

// PublishWhatsAppDelivery publishes a delivery command keyed by phone so
// commands for one number stay ordered.
func (p *Producer) PublishWhatsAppDelivery(ctx context.Context, data WhatsAppDeliveryData) error {
	event, err := pkgkafka.NewEvent(TopicWhatsAppDelivery, data.Phone, AggregateTypePhone, SourceTenantAuth, data)
	if err != nil {
		return fmt.Errorf("create whatsapp delivery event: %w", err)
	}
	event.WithCorrelationID(logger.CorrelationIDFromContext(ctx)).
		WithMetadata("expires_at", data.ExpiresAt.Format(time.RFC3339))

	if err := p.kafka.Publish(ctx, TopicWhatsAppDelivery, event); err != nil {
		return fmt.Errorf("publish whatsapp delivery event: %w", err)
	}

	p.logger.DebugContext(ctx, "published whatsapp delivery event",
		slog.String("phone", phone.Mask(data.Phone)),
	)
	return nil
}
