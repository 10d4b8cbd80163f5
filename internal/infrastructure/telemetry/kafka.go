package telemetry

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// HeaderCarrier adapts Kafka message headers to the propagation API.
type HeaderCarrier struct {
	Headers []kafka.Header
}

func (c HeaderCarrier) Get(key string) string {
	for _, header := range c.Headers {
		if strings.EqualFold(header.Key, key) {
			return string(header.Value)
		}
	}
	return ""
}

func (c *HeaderCarrier) Set(key, value string) {
	for i := range c.Headers {
		if strings.EqualFold(c.Headers[i].Key, key) {
			c.Headers[i].Value = []byte(value)
			return
		}
	}
	c.Headers = append(c.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Headers))
	for _, header := range c.Headers {
		keys = append(keys, header.Key)
	}
	return keys
}

func InjectKafkaHeaders(ctx context.Context, headers *[]kafka.Header) {
	carrier := HeaderCarrier{Headers: *headers}
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	*headers = carrier.Headers
}

func ExtractKafkaHeaders(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := HeaderCarrier{Headers: headers}
	return otel.GetTextMapPropagator().Extract(ctx, &carrier)
}

// MessageContext restores the producer's trace from headers, falling back to
// the trace id carried in the payload.
func MessageContext(ctx context.Context, headers []kafka.Header, traceID string) context.Context {
	msgCtx := ExtractKafkaHeaders(ctx, headers)
	if trace.SpanContextFromContext(msgCtx).IsValid() || traceID == "" {
		return msgCtx
	}
	if withTrace, ok := ContextWithTraceID(msgCtx, traceID); ok {
		return withTrace
	}
	return msgCtx
}
