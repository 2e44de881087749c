// Package transport owns the single UDP socket a peer or server listens
// on, dispatching inbound requests to a Handler and routing inbound
// responses back to the goroutine awaiting them by (seqnum, sender address).
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/filefabric/ctp/internal/metrics"
	"github.com/filefabric/ctp/wire"
)

// receiveTimeout bounds how long a single ReadFromUDP blocks, so a stop
// signal is observed with at most this much latency.
const receiveTimeout = time.Second

// ErrTimeout is returned by WaitResponse when no matching response arrives
// before the deadline.
var ErrTimeout = errors.New("transport: timed out waiting for response")

// ErrClosed is returned by Send and WaitResponse once the listener has
// halted, either via Stop or a fatal receive error.
var ErrClosed = errors.New("transport: listener is closed")

// Handler processes a decoded inbound request and returns the response
// message to send back, or ok=false to send nothing (e.g. PEERLIST_PUSH,
// NO_OP).
type Handler func(msg wire.Message, sender *net.UDPAddr) (resp wire.Message, ok bool)

// key correlates a pending response to the request that solicited it.
type key struct {
	seqnum uint32
	addr   string
}

// Listener owns one UDP socket, a background receive loop, and the table
// of requesters awaiting a response.
type Listener struct {
	conn    *net.UDPConn
	handler Handler
	metrics *metrics.Registry

	mu      sync.Mutex
	waiters map[key]chan wire.Message
	closed  bool
	fatal   error

	group  *errgroup.Group
	cancel context.CancelFunc
}

// Option configures optional Listener behavior at construction time.
type Option func(*Listener)

// WithMetrics registers m so the receive loop and response router record
// datagram and request counts against it. Omit for no metrics.
func WithMetrics(m *metrics.Registry) Option {
	return func(l *Listener) { l.metrics = m }
}

// Listen binds addr and starts the receive loop under ctx. The loop stops
// when ctx is cancelled or Stop is called.
func Listen(ctx context.Context, addr string, handler Handler, opts ...Option) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", addr, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	group, loopCtx := errgroup.WithContext(loopCtx)

	l := &Listener{
		conn:    conn,
		handler: handler,
		waiters: make(map[key]chan wire.Message),
		group:   group,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(l)
	}
	group.Go(func() error {
		return l.loop(loopCtx)
	})
	return l, nil
}

// LocalAddr returns the bound UDP address.
func (l *Listener) LocalAddr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

func (l *Listener) loop(ctx context.Context) error {
	buf := make([]byte, wire.MaxDatagram)
	for {
		select {
		case <-ctx.Done():
			l.haltLocked(nil)
			return nil
		default:
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(receiveTimeout)); err != nil {
			l.haltLocked(err)
			return fmt.Errorf("transport: set read deadline: %w", err)
		}

		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				l.haltLocked(nil)
				return nil
			}
			log.Errorf("transport: fatal receive error, halting listener: %v", err)
			l.haltLocked(err)
			return fmt.Errorf("transport: receive: %w", err)
		}
		if l.metrics != nil {
			l.metrics.DatagramsReceived.Inc()
		}

		msg, err := wire.Unpack(buf[:n])
		if err != nil {
			log.Debugf("transport: dropping malformed datagram from %s: %v", addr, err)
			if l.metrics != nil {
				l.metrics.DatagramsDropped.WithLabelValues("malformed").Inc()
			}
			continue
		}

		if msg.Type.IsRequest() {
			l.handleRequest(msg, addr)
		} else {
			l.routeResponse(msg, addr)
		}
	}
}

func (l *Listener) handleRequest(msg wire.Message, addr *net.UDPAddr) {
	if l.metrics != nil {
		l.metrics.RequestsServed.WithLabelValues(msg.Type.String()).Inc()
	}
	resp, ok := l.handler(msg, addr)
	if !ok {
		return
	}
	packed, err := resp.Pack()
	if err != nil {
		log.Errorf("transport: failed to pack response to %s: %v", addr, err)
		return
	}
	if _, err := l.conn.WriteToUDP(packed, addr); err != nil {
		log.Debugf("transport: failed to send response to %s: %v", addr, err)
	}
}

func (l *Listener) routeResponse(msg wire.Message, addr *net.UDPAddr) {
	k := key{seqnum: msg.Seqnum, addr: addr.String()}
	l.mu.Lock()
	ch, ok := l.waiters[k]
	if ok {
		delete(l.waiters, k)
	}
	l.mu.Unlock()
	if !ok {
		log.Debugf("transport: no waiter for response seqnum=%d from %s", msg.Seqnum, addr)
		return
	}
	ch <- msg
}

// Send writes packet to addr without waiting for a reply.
func (l *Listener) Send(packet []byte, addr *net.UDPAddr) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}
	_, err := l.conn.WriteToUDP(packet, addr)
	if err != nil {
		return fmt.Errorf("transport: send to %s: %w", addr, err)
	}
	return nil
}

// WaitResponse registers interest in a response keyed by (seqnum, addr),
// sends packet, then blocks up to timeout for the matching response.
func (l *Listener) WaitResponse(packet []byte, addr *net.UDPAddr, seqnum uint32, timeout time.Duration) (wire.Message, error) {
	k := key{seqnum: seqnum, addr: addr.String()}
	ch := make(chan wire.Message, 1)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return wire.Message{}, ErrClosed
	}
	l.waiters[k] = ch
	l.mu.Unlock()

	if err := l.Send(packet, addr); err != nil {
		l.mu.Lock()
		delete(l.waiters, k)
		l.mu.Unlock()
		return wire.Message{}, err
	}
	if l.metrics != nil {
		l.metrics.InFlightRequests.Inc()
		defer l.metrics.InFlightRequests.Dec()
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return wire.Message{}, ErrClosed
		}
		return msg, nil
	case <-time.After(timeout):
		l.mu.Lock()
		delete(l.waiters, k)
		l.mu.Unlock()
		return wire.Message{}, ErrTimeout
	}
}

func (l *Listener) haltLocked(fatal error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.fatal = fatal
	for k, ch := range l.waiters {
		close(ch)
		delete(l.waiters, k)
	}
}

// Err returns the fatal error that halted the listener, if any.
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fatal
}

// Stop signals the receive loop to halt and waits for it to finish,
// closing the underlying socket.
func (l *Listener) Stop() error {
	l.cancel()
	err := l.group.Wait()
	closeErr := l.conn.Close()
	if err != nil {
		return err
	}
	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return fmt.Errorf("transport: close socket: %w", closeErr)
	}
	return nil
}
