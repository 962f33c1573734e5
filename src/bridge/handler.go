package bridge

import (
	"log/slog"

	"github.com/sandrolain/uplink-bridge/src/message"
)

// MessageHandler consolidates message lifecycle handling (ack/nak) with consistent logging
type MessageHandler struct {
	logger *slog.Logger
}

func NewMessageHandler(logger *slog.Logger) *MessageHandler {
	return &MessageHandler{logger: logger}
}

// HandleSuccess acknowledges a message and logs at info level
func (h *MessageHandler) HandleSuccess(msg *message.SourceMessage, operation string, logArgs ...any) {
	h.logger.Info(operation, logArgs...)
	h.ack(msg, operation)
}

// HandleSkipped acknowledges a message that was dropped on purpose and logs at warn level
func (h *MessageHandler) HandleSkipped(msg *message.SourceMessage, reason string, logArgs ...any) {
	h.logger.Warn(reason, logArgs...)
	h.ack(msg, reason)
}

// HandleError logs the error and naks the message
func (h *MessageHandler) HandleError(msg *message.SourceMessage, err error, operation string, additionalFields ...any) {
	logArgs := append([]any{"error", err}, additionalFields...)
	h.logger.Error(operation, logArgs...)
	if msg == nil {
		h.logger.Warn("cannot nak nil message in " + operation)
		return
	}
	if nakErr := msg.Nak(); nakErr != nil {
		h.logger.Error("failed to nak message after "+operation, "error", nakErr)
	}
}

func (h *MessageHandler) ack(msg *message.SourceMessage, operation string) {
	if msg == nil {
		h.logger.Warn("cannot ack nil message in " + operation)
		return
	}
	if ackErr := msg.Ack(); ackErr != nil {
		h.logger.Error("failed to ack message after "+operation, "error", ackErr)
	}
}
