package api

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/natural-query/webapp/internal/backend"
)

const (
	MsgTypeState  = "state"
	MsgTypeQuery  = "query"
	MsgTypeUpload = "upload"
	MsgTypePing   = "ping"

	MsgTypeConnected  = "connected"
	MsgTypeProcessing = "processing"
	MsgTypeComplete   = "complete"
	MsgTypeError      = "error"
	MsgTypePong       = "pong"
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Query payload
type WSQueryPayload struct {
	Query string `json:"query"`
}

// Upload payload (single message, base64 file)
type WSUploadPayload struct {
	Name     string `json:"name"`
	Data     string `json:"data"`
	Encoding string `json:"encoding,omitempty"` // "gzip", "none"
}

// WebSocket error response
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler runs uploads and queries for one visitor over a socket.
// Replies echo the request ID so a client can match them up.
type WebSocketHandler struct {
	svc      *queryService
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(svc *queryService) *WebSocketHandler {
	return &WebSocketHandler{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
	}
}

// HandleWebSocket upgrades the connection and serves messages until the client leaves
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	// The handshake is written by the upgrader, so carry over a session
	// cookie issued for this request.
	var header http.Header
	if cookies := c.Response().Header().Values(echo.HeaderSetCookie); len(cookies) > 0 {
		header = http.Header{echo.HeaderSetCookie: cookies}
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), header)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := c.Request().Context()
	logger := wsh.svc.logger

	// Uploads arrive base64 encoded, so allow for the expansion.
	if wsh.svc.maxUploadBytes > 0 {
		ws.SetReadLimit(wsh.svc.maxUploadBytes*4/3 + 4096)
	}

	logger.DebugContext(ctx, "websocket connected")
	wsh.sendMessage(ws, WSMessage{Type: MsgTypeConnected}, nil)

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WarnContext(ctx, "websocket read failed", "error", err)
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			wsh.sendMessage(ws, WSMessage{Type: MsgTypePong, ID: msg.ID}, nil)
		case MsgTypeState:
			wsh.sendMessage(ws, WSMessage{Type: MsgTypeState, ID: msg.ID}, currentView(c, wsh.svc.sessions))
		case MsgTypeQuery:
			wsh.handleQuery(c, ws, msg)
		case MsgTypeUpload:
			wsh.handleUpload(c, ws, msg)
		default:
			wsh.sendError(ws, msg.ID, NewBadRequestError("unknown message type: "+msg.Type, nil))
		}
	}

	logger.DebugContext(ctx, "websocket disconnected")
	return nil
}

func (wsh *WebSocketHandler) handleQuery(c echo.Context, ws *websocket.Conn, msg WSMessage) {
	var payload WSQueryPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		wsh.sendError(ws, msg.ID, NewBadRequestError("invalid query payload", err))
		return
	}

	wsh.sendMessage(ws, WSMessage{Type: MsgTypeProcessing, ID: msg.ID}, nil)
	resp, err := wsh.svc.ask(c.Request().Context(), sessionID(c), payload.Query)
	if err != nil {
		wsh.sendError(ws, msg.ID, toAPIError(err))
		return
	}
	wsh.sendMessage(ws, WSMessage{Type: MsgTypeComplete, ID: msg.ID}, resp)
}

func (wsh *WebSocketHandler) handleUpload(c echo.Context, ws *websocket.Conn, msg WSMessage) {
	var payload WSUploadPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		wsh.sendError(ws, msg.ID, NewBadRequestError("invalid upload payload", err))
		return
	}

	ctx := c.Request().Context()
	sid := sessionID(c)

	if payload.Name == "" || payload.Data == "" {
		wsh.svc.rejectUpload(ctx, sid, backend.ErrNoFile)
		wsh.sendError(ws, msg.ID, toAPIError(backend.ErrNoFile))
		return
	}

	data, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		wsh.sendError(ws, msg.ID, NewBadRequestError("invalid base64 data", err))
		return
	}
	if payload.Encoding == "gzip" {
		if data, err = decompressGzip(data, wsh.svc.maxUploadBytes); err != nil {
			wsh.sendError(ws, msg.ID, NewBadRequestError("invalid gzip data", err))
			return
		}
	}
	if wsh.svc.maxUploadBytes > 0 && int64(len(data)) > wsh.svc.maxUploadBytes {
		wsh.svc.rejectUpload(ctx, sid, errFileTooLarge)
		wsh.sendError(ws, msg.ID, NewPayloadTooLargeError(wsh.svc.maxUploadBytes>>20))
		return
	}

	wsh.sendMessage(ws, WSMessage{Type: MsgTypeProcessing, ID: msg.ID}, nil)
	outcome, err := wsh.svc.upload(ctx, sid, payload.Name, data)
	if err != nil {
		wsh.sendError(ws, msg.ID, toAPIError(err))
		return
	}
	wsh.sendMessage(ws, WSMessage{Type: MsgTypeComplete, ID: msg.ID}, outcome)
}

// Helper methods

func (wsh *WebSocketHandler) sendMessage(ws *websocket.Conn, msg WSMessage, payload any) {
	msg.Timestamp = time.Now().UnixMilli()
	if payload != nil {
		msg.Payload = mustJSON(payload)
	}
	if err := ws.WriteJSON(msg); err != nil {
		wsh.svc.logger.Warn("websocket write failed", "type", msg.Type, "error", err)
	}
}

func (wsh *WebSocketHandler) sendError(ws *websocket.Conn, id string, apiErr *APIError) {
	wsh.sendMessage(ws, WSMessage{Type: MsgTypeError, ID: id}, WSErrorResponse{
		Message: apiErr.Message,
		Code:    apiErr.Code,
	})
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// decompressGzip inflates data, refusing output larger than limit (0 = unlimited).
func decompressGzip(data []byte, limit int64) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var src io.Reader = reader
	if limit > 0 {
		src = io.LimitReader(reader, limit+1)
	}
	return io.ReadAll(src)
}

// isWebSocketUpgrade reports whether the request asks for a protocol switch.
func isWebSocketUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}
