package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/entities"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/logging"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxMsgSize    = 1 << 12
	sendQueueSize = 16
)

type streamMessage struct {
	Type    string           `json:"type"`
	EntryID string           `json:"entry_id,omitempty"`
	Data    []entities.State `json:"data"`
}

// StreamHandler pushes entity states to websocket clients: everything on
// connect, then each entry's states after every refresh
type StreamHandler struct {
	rt       Runtime
	upgrader websocket.Upgrader
}

func NewStreamHandler(rt Runtime, checkOrigin func(r *http.Request) bool) *StreamHandler {
	return &StreamHandler{
		rt: rt,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin,
		},
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logging.Logger(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ctxLogger.WithError(err).Error("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Subscribe before the initial snapshot so no refresh slips between them
	queue := make(chan streamMessage, sendQueueSize)
	unsubscribe := h.rt.Subscribe(func(entryID string, states []entities.State) {
		select {
		case queue <- streamMessage{Type: "state_changed", EntryID: entryID, Data: states}:
		default:
			ctxLogger.Warnf("websocket client too slow, dropping update for entry %s", entryID)
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				ctxLogger.WithError(err).Debug("websocket read closed")
				return
			}
		}
	}()

	initial := streamMessage{Type: "states", Data: []entities.State{}}
	for _, e := range h.rt.Entities() {
		initial.Data = append(initial.Data, e.State())
	}
	if err := writeJSON(conn, initial); err != nil {
		ctxLogger.WithError(err).Info("websocket initial write failed")
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				ctxLogger.WithError(err).Info("websocket ping failed")
				return
			}
		case msg := <-queue:
			if err := writeJSON(conn, msg); err != nil {
				ctxLogger.WithError(err).Info("websocket write failed")
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, msg streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
