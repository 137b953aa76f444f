package router

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/a-essam23/setlist-sync/pkg/state"
)

func encode(msg ServerMessage) ([]byte, error) {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", msg.Event, err)
	}
	return msgBytes, nil
}

// notifyOrigin sends msg to a single connection.
func (r *EventRouter) notifyOrigin(conn state.Transport, msg ServerMessage) {
	msgBytes, err := encode(msg)
	if err != nil {
		r.logger.Error("Dropping reply", slog.Any("error", err))
		return
	}
	if !conn.Send(msgBytes) {
		r.logger.Debug("Reply not enqueued", slog.String("event", msg.Event), slog.String("connID", conn.ID().String()))
	}
}

// notifyRoom fans msg out to every connection joined to groupID. Sends only
// enqueue, so a stalled peer never holds up the others.
func (r *EventRouter) notifyRoom(groupID string, msg ServerMessage) {
	msgBytes, err := encode(msg)
	if err != nil {
		r.logger.Error("Dropping broadcast", slog.Any("error", err))
		return
	}

	targetConns := r.state.GetRoomConnections(groupID)
	dropped := 0
	for _, conn := range targetConns {
		if !conn.Send(msgBytes) {
			dropped++
		}
	}
	r.logger.Debug("Notified room",
		slog.String("groupID", groupID),
		slog.String("event", msg.Event),
		slog.Int("connection_count", len(targetConns)),
		slog.Int("dropped", dropped),
	)
}
