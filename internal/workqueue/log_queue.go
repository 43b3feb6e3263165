package workqueue

import (
	"context"

	"github.com/rs/zerolog"
)

// LogQueue records messages in the log only. It is used when no Redis is
// configured.
type LogQueue struct {
	log zerolog.Logger
}

func NewLogQueue(log zerolog.Logger) *LogQueue {
	return &LogQueue{log: log.With().Str("component", "workqueue").Logger()}
}

func (q *LogQueue) Push(_ context.Context, msg Message) error {
	q.event(q.log.Info(), msg).Msg("queued")
	return nil
}

func (q *LogQueue) Broadcast(_ context.Context, msg Message) error {
	q.event(q.log.Info(), msg).Msg("broadcast")
	return nil
}

func (q *LogQueue) event(ev *zerolog.Event, msg Message) *zerolog.Event {
	ev = ev.Str("type", string(msg.Kind))
	if msg.ElementID != "" {
		ev = ev.Str("elementType", msg.ElementType).Str("elementId", msg.ElementID)
	}
	if len(msg.VertexIDs) > 0 {
		ev = ev.Strs("vertexIds", msg.VertexIDs)
	}
	if msg.PropertyName != "" {
		ev = ev.Str("propertyKey", msg.PropertyKey).Str("propertyName", msg.PropertyName)
	}
	if msg.Status != "" {
		ev = ev.Str("status", string(msg.Status))
	}
	if msg.WorkspaceID != "" {
		ev = ev.Str("workspaceId", msg.WorkspaceID)
	}
	if msg.Priority != "" {
		ev = ev.Str("priority", string(msg.Priority))
	}
	return ev
}
