package events

import (
	"context"

	"github.com/wolfman30/practice-booking/pkg/logging"
)

// Router dispatches outbox entries by event type.
type Router struct {
	routes   map[string]DeliveryHandler
	fallback DeliveryHandler
	logger   *logging.Logger
}

func NewRouter(logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{routes: map[string]DeliveryHandler{}, logger: logger}
}

// Route registers h for eventType, replacing any previous handler.
func (r *Router) Route(eventType string, h DeliveryHandler) *Router {
	if h != nil {
		r.routes[eventType] = h
	}
	return r
}

// Fallback receives every type without an explicit route.
func (r *Router) Fallback(h DeliveryHandler) *Router {
	r.fallback = h
	return r
}

func (r *Router) Handle(ctx context.Context, entry OutboxEntry) error {
	if h, ok := r.routes[entry.Type]; ok {
		return h.Handle(ctx, entry)
	}
	if r.fallback != nil {
		return r.fallback.Handle(ctx, entry)
	}
	// nothing subscribed; treat as delivered
	r.logger.Debug("outbox entry has no route", "event_id", entry.ID, "type", entry.Type)
	return nil
}
