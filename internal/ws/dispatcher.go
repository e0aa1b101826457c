package ws

import (
	"go.uber.org/zap"

	"github.com/whisper/modguard/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client message.
// The msg parameter is the concrete struct returned by protocol.ParseClientMessage
// (e.g., protocol.OpenReportMsg, protocol.SubmitReportMsg).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming console messages to registered handlers
// based on the message type. It answers ping itself and replies with an
// invalid error for malformed or unsupported messages.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	server   *Server
	logger   *zap.Logger
}

// NewMessageDispatcher creates a MessageDispatcher. The server may be set
// later with SetServer, since NewServer needs the Dispatch callback.
func NewMessageDispatcher(server *Server, logger *zap.Logger) *MessageDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		server:   server,
		logger:   logger.Named("dispatch"),
	}
}

// SetServer assigns the Server used to send replies.
func (d *MessageDispatcher) SetServer(server *Server) {
	d.server = server
}

// Register associates a MessageHandler with a message type, replacing any
// previous handler.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.logger.Debug("parse error", zap.String("conn", conn.ID), zap.Error(err))
		d.SendError(conn, protocol.CodeInvalid, "invalid message format", "")
		return
	}

	if msgType == protocol.TypePing {
		d.Send(conn, protocol.TypePong, protocol.PongMsg{})
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.logger.Debug("unsupported message type", zap.String("type", msgType), zap.String("conn", conn.ID))
		d.SendError(conn, protocol.CodeInvalid, "unsupported message type", "")
		return
	}

	handler(conn, msg)
}

// Send builds and writes a server message. Failures are logged only.
func (d *MessageDispatcher) Send(conn *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		d.logger.Error("build message", zap.String("type", msgType), zap.Error(err))
		return
	}

	var werr error
	if d.server != nil {
		werr = d.server.SendMessage(conn, data)
	} else {
		werr = conn.WriteMessage(data)
	}
	if werr != nil {
		d.logger.Debug("send message", zap.String("type", msgType), zap.String("conn", conn.ID), zap.Error(werr))
	}
}

// SendError sends a structured error message back to the client.
func (d *MessageDispatcher) SendError(conn *Connection, code, message, sessionID string) {
	d.Send(conn, protocol.TypeError, protocol.ErrorMsg{
		Code:      code,
		Message:   message,
		SessionID: sessionID,
	})
}
