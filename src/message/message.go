package message

import (
	"time"
)

type ResponseStatus int

const (
	ResponseStatusAck ResponseStatus = iota
	ResponseStatusNak
)

func (s ResponseStatus) String() string {
	if s == ResponseStatusAck {
		return "ack"
	}
	return "nak"
}

// SourceMessage is one raw message received from a source. Ack or Nak must be
// called once the message has been handled.
type SourceMessage struct {
	Topic      string
	Data       []byte
	ReceivedAt time.Time
	done       chan ResponseStatus
}

// NewSourceMessage creates a message whose Ack/Nak are reported on done.
// done may be nil when the source does not wait for the outcome.
func NewSourceMessage(topic string, data []byte, receivedAt time.Time, done chan ResponseStatus) *SourceMessage {
	return &SourceMessage{
		Topic:      topic,
		Data:       data,
		ReceivedAt: receivedAt,
		done:       done,
	}
}

func (m *SourceMessage) Ack() error {
	SendResponseStatus(m.done, ResponseStatusAck)
	return nil
}

func (m *SourceMessage) Nak() error {
	SendResponseStatus(m.done, ResponseStatusNak)
	return nil
}

// SendResponseStatus sends status without blocking. Channels are expected to
// be buffered by the source.
func SendResponseStatus(ch chan ResponseStatus, status ResponseStatus) {
	if ch == nil {
		return
	}
	select {
	case ch <- status:
	default:
	}
}
