package broadcast

import (
	"context"

	"go.uber.org/zap"

	"example.com/steptracker/internal/domain"
	"example.com/steptracker/internal/observability"
)

// Sink delivers updates outside the process.
type Sink interface {
	Deliver(ctx context.Context, update domain.Update) error
}

// Forward subscribes sink to the hub and delivers every update until ctx is cancelled or the
// hub closes. Delivery failures are logged and dropped; there is no retry.
func Forward(ctx context.Context, hub *Hub, name string, sink Sink, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	updates, cancel := hub.Subscribe(DefaultBuffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := sink.Deliver(ctx, update); err != nil {
				observability.RecordDropped(name)
				logger.Warn("sink delivery failed", zap.String("sink", name), zap.Int("steps", update.Steps), zap.Error(err))
			}
		}
	}
}
