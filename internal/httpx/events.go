package httpx

import (
	"context"
	"strconv"

	kafkax "github.com/ariefcatur/go-farm-market/internal/kafka"
	"github.com/ariefcatur/go-farm-market/internal/orders"
	"github.com/ariefcatur/go-farm-market/internal/stats"
	"github.com/go-chi/chi/v5/middleware"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

type emitter struct {
	pub      EventPublisher
	producer string
	log      logrus.FieldLogger
}

// emit publishes after the write has committed; a failure here is logged
// and never undoes the write.
func (e emitter) emit(ctx context.Context, topic, eventType, key string, payload any) {
	if e.pub == nil {
		return
	}
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	env, err := orders.NewEnvelope(eventType, e.producer, traceID, middleware.GetReqID(ctx), payload)
	if err != nil {
		e.log.WithError(err).WithField("event_type", eventType).Error("build event")
		return
	}
	e.pub.Publish(topic, orders.PartitionKey(key), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}

// evictStats drops the aggregates a committed write changed before the
// response goes out, so the writer's next dashboard read sees it.
func evictStats(ctx context.Context, svc *stats.Service, log logrus.FieldLogger, keys []string) {
	if err := svc.Evict(ctx, keys...); err != nil {
		log.WithError(err).WithField("keys", keys).Warn("stats evict")
	}
}
