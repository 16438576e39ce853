package gossip

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/andydunstall/gossamer/pkg/log"
)

// Transport sends a message to a peer and waits for the response.
//
// Delivery is best-effort. Implementations must respect the context
// deadline.
type Transport interface {
	Send(ctx context.Context, to Node, m *Message) (*Message, error)
}

// Handler handles a message received from a peer and returns the response.
type Handler interface {
	HandleMessage(ctx context.Context, m *Message) (*Message, error)
}

// StreamTransport implements Transport over TCP, opening a connection per
// exchange.
//
// Each exchange writes a single request frame and reads a single response
// frame.
type StreamTransport struct {
	ln net.Listener

	dialer *net.Dialer

	timeout        time.Duration
	maxMessageSize int

	closed *atomic.Bool

	metrics *Metrics

	logger log.Logger
}

func NewStreamTransport(
	ln net.Listener,
	timeout time.Duration,
	maxMessageSize int,
	metrics *Metrics,
	logger log.Logger,
) *StreamTransport {
	return &StreamTransport{
		ln: ln,
		dialer: &net.Dialer{
			Timeout: timeout,
		},
		timeout:        timeout,
		maxMessageSize: maxMessageSize,
		closed:         atomic.NewBool(false),
		metrics:        metrics,
		logger:         logger.WithSubsystem("gossip.transport"),
	}
}

// Send dials the peer, writes the message and reads the response.
func (t *StreamTransport) Send(ctx context.Context, to Node, m *Message) (*Message, error) {
	conn, err := t.dialer.DialContext(ctx, "tcp", to.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	t.metrics.ConnectionsOutbound.Inc()

	deadline := time.Now().Add(t.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetDeadline(deadline)

	// Close the connection if the context is cancelled to unblock reads and
	// writes.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	trackedReader := newTrackedReader(conn)
	defer func() {
		t.metrics.StreamBytesInbound.Add(float64(trackedReader.NumBytesRead()))
	}()

	trackedWriter := newTrackedWriter(conn)
	defer func() {
		t.metrics.StreamBytesOutbound.Add(float64(trackedWriter.NumBytesWritten()))
	}()

	w := bufio.NewWriter(trackedWriter)
	if err := writeMessage(w, m); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	resp, err := readMessage(bufio.NewReader(trackedReader), t.maxMessageSize)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return resp, nil
}

// Serve will accept connections and pass received messages to the handler
// until the listener is closed.
func (t *StreamTransport) Serve(handler Handler) {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("failed to accept connection", zap.Error(err))
			continue
		}

		t.logger.Debug(
			"accepted conn",
			zap.String("addr", conn.RemoteAddr().String()),
		)

		t.metrics.ConnectionsInbound.Inc()

		go func() {
			if err := t.handleConn(conn, handler); err != nil {
				t.logger.Warn(
					"failed to handle connection",
					zap.String("addr", conn.RemoteAddr().String()),
					zap.Error(err),
				)
			}
		}()
	}
}

// Addr returns the address the transport is listening on.
func (t *StreamTransport) Addr() net.Addr {
	return t.ln.Addr()
}

func (t *StreamTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		// Already closed.
		return nil
	}
	return t.ln.Close()
}

func (t *StreamTransport) handleConn(conn net.Conn, handler Handler) error {
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(t.timeout))

	trackedReader := newTrackedReader(conn)
	defer func() {
		t.metrics.StreamBytesInbound.Add(float64(trackedReader.NumBytesRead()))
	}()

	trackedWriter := newTrackedWriter(conn)
	defer func() {
		t.metrics.StreamBytesOutbound.Add(float64(trackedWriter.NumBytesWritten()))
	}()

	req, err := readMessage(bufio.NewReader(trackedReader), t.maxMessageSize)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	resp, err := handler.HandleMessage(ctx, req)
	if err != nil {
		return fmt.Errorf("handle: %s: %w", req.Type, err)
	}

	w := bufio.NewWriter(trackedWriter)
	if err := writeMessage(w, resp); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

var _ Transport = &StreamTransport{}
