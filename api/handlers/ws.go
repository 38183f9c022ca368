package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/BaSui01/convoflow/api"
	"github.com/BaSui01/convoflow/llm/streaming"
	"github.com/BaSui01/convoflow/types"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const wsWriteTimeout = 10 * time.Second

// HandleWebSocket upgrades to a WebSocket on which each text message
// {"message": ...} starts a turn. Events are sent as {"type","data"}
// envelopes. Turns on one connection run one at a time.
// @Summary Chat over WebSocket
// @Tags chat
// @Param id path string true "session id"
// @Security BearerAuth
// @Router /api/v1/sessions/{id}/ws [get]
func (h *ChatHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, ok := principal(w, r, h.logger)
	if !ok {
		return
	}
	sessionID := r.PathValue("id")
	if _, err := h.store.GetSession(r.Context(), sessionID, user); err != nil {
		WriteError(w, r, ToError(err), h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// The request context is not cancelled once the connection is hijacked.
	// Reading continues during a turn so a close from the client cancels it.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := h.logger.With(zap.String("session_id", sessionID))
	incoming := make(chan wsMessage, wsQueue)
	go func() {
		defer cancel()
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
					log.Debug("websocket read ended", zap.Error(err))
				}
				return
			}
			select {
			case incoming <- wsMessage{typ: typ, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var msg wsMessage
		select {
		case <-ctx.Done():
			return
		case msg = <-incoming:
		}

		var req api.SendMessageRequest
		if msg.typ != websocket.MessageText || json.Unmarshal(msg.data, &req) != nil {
			if err := writeEvent(ctx, conn, types.Failed(types.NewError(types.ErrInvalidRequest, "expected a JSON text message"))); err != nil {
				return
			}
			continue
		}
		if err := h.streamTurn(ctx, conn, user, sessionID, req.Message); err != nil {
			log.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

// wsQueue bounds messages received while a turn is running.
const wsQueue = 8

type wsMessage struct {
	typ  websocket.MessageType
	data []byte
}

// streamTurn runs one turn over conn. It returns an error only when the
// connection can no longer be written to.
func (h *ChatHandler) streamTurn(ctx context.Context, conn *websocket.Conn, user, sessionID, text string) error {
	p, terr := h.admit(ctx, user, sessionID, text)
	if terr != nil {
		return writeEvent(ctx, conn, types.Failed(terr))
	}
	defer p.release()

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := h.conv.Stream(turnCtx, p.turn)
	if err != nil {
		return writeEvent(ctx, conn, types.Failed(ToError(err)))
	}
	if err := writeEvent(ctx, conn, h.ack(p)); err != nil {
		cancel()
		drain(events)
		return err
	}

	observe := h.observe(turnCtx, p)
	for ev := range events {
		observe(ev)
		if err := writeEvent(ctx, conn, ev); err != nil {
			cancel()
			drain(events)
			return err
		}
	}
	return nil
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev types.StreamEvent) error {
	data, err := streaming.MarshalEnvelope(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
