package channel

import (
	"encoding/json"
	"log/slog"

	"github.com/kirillkom/taskchannel/internal/core/domain"
	"github.com/kirillkom/taskchannel/internal/observability/metrics"
)

// Dispatcher decodes inbound frames and routes each to the handler
// registered for its task ID. A malformed or orphan frame is logged and
// dropped; it never affects the connection or sibling tasks.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.ChannelMetrics
	service  string
}

func NewDispatcher(registry *Registry, logger *slog.Logger, m *metrics.ChannelMetrics, service string) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger,
		metrics:  m,
		service:  service,
	}
}

func (d *Dispatcher) Dispatch(data []byte) {
	var msg domain.ProgressMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		d.logger.Warn("malformed_frame_dropped", "error", err, "bytes", len(data))
		d.count("malformed")
		return
	}
	msg.Raw = data

	if msg.TaskID == "" {
		if msg.Type == domain.MessageTypeConnected {
			d.logger.Debug("connection_confirmed")
			d.count("ack")
			return
		}
		d.logger.Debug("frame_without_task_id_dropped", "type", msg.Type)
		d.count("orphan")
		return
	}

	handler, ok := d.registry.Handler(msg.TaskID)
	if !ok || handler == nil {
		d.logger.Debug("orphan_message_dropped", "task_id", msg.TaskID, "state", msg.State)
		d.count("orphan")
		return
	}

	d.count("dispatched")
	handler(msg)
}

func (d *Dispatcher) count(disposition string) {
	if d.metrics != nil {
		d.metrics.Message(d.service, disposition)
	}
}
