package gossip

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/ugorji/go/codec"
)

type MessageType uint8

const (
	// MessageTypeJoin announces a node joining the cluster. The response
	// contains the receivers view, membership and full state.
	MessageTypeJoin MessageType = iota + 1
	// MessageTypeSync starts an anti-entropy exchange. The request contains
	// a view sample, member updates and the state digest. The response
	// contains the receivers view sample, member updates, the entries the
	// sender is missing and the keys the receiver wants pulled.
	MessageTypeSync
	// MessageTypePush sends state entries, either the keys pulled by the
	// sync response or a local write being pushed immediately.
	MessageTypePush
	// MessageTypeAck acknowledges a push or leave.
	MessageTypeAck
	// MessageTypeLeave notifies that the sender is leaving the cluster.
	MessageTypeLeave
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeJoin:
		return "join"
	case MessageTypeSync:
		return "sync"
	case MessageTypePush:
		return "push"
	case MessageTypeAck:
		return "ack"
	case MessageTypeLeave:
		return "leave"
	default:
		return "unknown"
	}
}

func (t MessageType) valid() bool {
	return t >= MessageTypeJoin && t <= MessageTypeLeave
}

const (
	supportedVersion uint8 = 0
)

// ErrMalformedMessage is returned when a received message is invalid.
var ErrMalformedMessage = errors.New("malformed message")

var (
	errEmptyKey    = errors.New("empty key")
	errZeroVersion = errors.New("zero version")
)

// Message is the unit exchanged between nodes.
//
// Each request gets exactly one response of the same ID.
type Message struct {
	// Type is encoded in the frame header rather than the body.
	Type MessageType `codec:"-"`

	// ID correlates a response with its request.
	ID string `codec:"id"`

	// From is the sending node.
	From Node `codec:"from"`

	// View is a sample of the senders partial view.
	View []ViewEntry `codec:"view"`

	// Members contains member status updates.
	Members []memberUpdate `codec:"members"`

	// Digest contains the version of each of the senders keys.
	Digest digest `codec:"digest"`

	// Entries contains state entries.
	Entries []Entry `codec:"entries"`

	// Pull contains keys the sender wants the receiver to push.
	Pull []string `codec:"pull"`
}

func newMessage(t MessageType, from Node) *Message {
	return &Message{
		Type: t,
		ID:   uuid.New().String(),
		From: from,
	}
}

// reply creates a response to the request.
func (m *Message) reply(t MessageType, from Node) *Message {
	return &Message{
		Type: t,
		ID:   m.ID,
		From: from,
	}
}

// Validate checks the message is well formed. Any error wraps
// ErrMalformedMessage.
func (m *Message) Validate() error {
	if err := m.validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	return nil
}

func (m *Message) validate() error {
	if !m.Type.valid() {
		return fmt.Errorf("unsupported message type: %d", m.Type)
	}
	if _, err := uuid.Parse(m.ID); err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	if err := m.From.validate(); err != nil {
		return fmt.Errorf("from: %w", err)
	}
	for _, entry := range m.View {
		if err := entry.Node.validate(); err != nil {
			return fmt.Errorf("view: %w", err)
		}
		if !entry.Status.valid() {
			return fmt.Errorf("view: invalid status: %d", entry.Status)
		}
	}
	if err := validateMemberUpdates(m.Members); err != nil {
		return fmt.Errorf("members: %w", err)
	}
	if err := m.Digest.validate(); err != nil {
		return fmt.Errorf("digest: %w", err)
	}
	if err := validateEntries(m.Entries); err != nil {
		return fmt.Errorf("entries: %w", err)
	}
	for _, key := range m.Pull {
		if key == "" {
			return fmt.Errorf("pull: %w", errEmptyKey)
		}
	}
	return nil
}

// trackedWriter is a wrapper for the underlying writer that counts the number
// of bytes written.
type trackedWriter struct {
	w io.Writer
	n int
}

func newTrackedWriter(w io.Writer) *trackedWriter {
	return &trackedWriter{
		w: w,
	}
}

func (w *trackedWriter) Write(b []byte) (int, error) {
	n, err := w.w.Write(b)
	w.n += n
	return n, err
}

func (w *trackedWriter) NumBytesWritten() int {
	return w.n
}

var _ io.Writer = &trackedWriter{}

// trackedReader is a wrapper for the underlying reader that counts the number
// of bytes read.
type trackedReader struct {
	r io.Reader
	n int
}

func newTrackedReader(r io.Reader) *trackedReader {
	return &trackedReader{
		r: r,
	}
}

func (r *trackedReader) Read(b []byte) (int, error) {
	n, err := r.r.Read(b)
	r.n += n
	return n, err
}

func (r *trackedReader) NumBytesRead() int {
	return r.n
}

var _ io.Reader = &trackedReader{}

// writeMessage writes the message frame, which is a fixed header containing
// the message type and protocol version, followed by the msgpack encoded
// message.
func writeMessage(w io.Writer, m *Message) error {
	if _, err := w.Write([]byte{byte(m.Type), supportedVersion}); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	var handle codec.MsgpackHandle
	if err := codec.NewEncoder(w, &handle).Encode(m); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// readMessage reads a message frame, reading at most maxSize bytes.
//
// The returned message is not validated.
func readMessage(r io.Reader, maxSize int) (*Message, error) {
	r = io.LimitReader(r, int64(maxSize))

	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	messageType := MessageType(header[0])
	if !messageType.valid() {
		return nil, fmt.Errorf(
			"%w: unsupported message type: %d", ErrMalformedMessage, header[0],
		)
	}
	if header[1] != supportedVersion {
		return nil, fmt.Errorf(
			"%w: unsupported version: %d", ErrMalformedMessage, header[1],
		)
	}

	var handle codec.MsgpackHandle
	var m Message
	if err := codec.NewDecoder(r, &handle).Decode(&m); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return nil, fmt.Errorf("decode: %w", err)
		}
		return nil, fmt.Errorf("%w: decode: %s", ErrMalformedMessage, err)
	}
	m.Type = messageType
	return &m, nil
}
