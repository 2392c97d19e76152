// Package bus provides event bus implementations for Fiscal.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/fiscal/internal/domain"
	"go.opentelemetry.io/otel/trace"
)

// MetadataTraceID carries the publisher's trace id across the bus.
const MetadataTraceID = "trace_id"

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishJSON marshals v and publishes it to topic.
func PublishJSON(ctx context.Context, b domain.EventBus, tenantID, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}
	return b.Publish(ctx, tenantID, topic, payload)
}

// newMessage wraps payload in the envelope both buses deliver.
func newMessage(ctx context.Context, tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  messageMetadata(ctx),
		Timestamp: time.Now().UnixNano(),
	}
}

// messageMetadata seeds message metadata from the publishing context.
func messageMetadata(ctx context.Context) map[string]string {
	md := make(map[string]string)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		md[MetadataTraceID] = sc.TraceID().String()
	}
	return md
}

// validSubjectToken rejects tenant ids that would change the shape of a
// NATS subject.
func validSubjectToken(token string) error {
	if token == "" {
		return fmt.Errorf("tenantID is required")
	}
	if strings.ContainsAny(token, ".*> \t\r\n") {
		return fmt.Errorf("tenantID %q is not a valid subject token", token)
	}
	return nil
}
