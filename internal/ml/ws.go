package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"device-classifier/internal/features"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// StreamRequest is one prediction sent over /ws/predict.
type StreamRequest struct {
	Policy  string          `json:"policy,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// StreamResponse answers one StreamRequest with either a result or an error.
type StreamResponse struct {
	Result *Result    `json:"result,omitempty"`
	Error  *errorBody `json:"error,omitempty"`
}

func (ms *ModelServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ms.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(ms.config.MaxBodyBytes)
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	connID := requestIDFrom(r)
	log.Debug().Str("request_id", connID).Msg("websocket client connected")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("request_id", connID).Msg("websocket read failed")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		if msgType != websocket.TextMessage {
			continue
		}

		resp := ms.answer(r.Context(), data)

		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(resp); err != nil {
			log.Warn().Err(err).Str("request_id", connID).Msg("websocket write failed")
			return
		}
	}
}

// answer runs one streamed prediction. Every message gets its own request id.
func (ms *ModelServer) answer(ctx context.Context, data []byte) StreamResponse {
	var req StreamRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return StreamResponse{Error: &errorBody{Code: "VALIDATION_ERROR", Message: fmt.Sprintf("invalid message: %v", err)}}
	}

	var policy features.Policy
	if req.Policy != "" {
		p, err := features.ParsePolicy(req.Policy)
		if err != nil {
			return StreamResponse{Error: &errorBody{Code: "UNKNOWN_POLICY", Message: err.Error()}}
		}
		policy = p
	}

	result, err := ms.predict(ctx, uuid.New().String(), policy, req.Payload)
	if err != nil {
		mapped := MapError(err)
		return StreamResponse{Error: &errorBody{Code: mapped.Code, Message: mapped.Message}}
	}
	return StreamResponse{Result: result}
}
