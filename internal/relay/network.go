package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postalsys/udp-relay/internal/logging"
	"github.com/postalsys/udp-relay/internal/message"
	"github.com/postalsys/udp-relay/internal/metrics"
	"github.com/postalsys/udp-relay/internal/queue"
	"github.com/postalsys/udp-relay/internal/taskpool"
)

// DefaultBufferSize is the receive buffer length. Longer datagrams are
// truncated to this size.
const DefaultBufferSize = 2000

// Task names used when spawning the loops.
const (
	SendTaskName = "send-loop"
	RecvTaskName = "recv-loop"
)

var (
	// ErrBind is returned by Start when the socket cannot be bound.
	// It is not recoverable.
	ErrBind = errors.New("bind failed")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("relay already started")

	// ErrNotStarted is returned when the relay has no bound socket yet.
	ErrNotStarted = errors.New("relay not started")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("relay closed")
)

// Scheduler runs the relay's long-lived background tasks.
type Scheduler interface {
	Spawn(name string, fn func(ctx context.Context)) *taskpool.Task
}

// Config holds relay tuning.
type Config struct {
	// BufferSize is the receive buffer length in bytes.
	BufferSize int

	// QueueCapacity bounds both queues. 0 means unbounded.
	QueueCapacity int

	// Socket holds kernel buffer sizes applied after binding.
	Socket SocketOptions
}

// DefaultConfig returns a Config with the default buffer and unbounded queues.
func DefaultConfig() Config {
	return Config{
		BufferSize: DefaultBufferSize,
	}
}

// Stats is a snapshot of the relay state.
type Stats struct {
	Started         bool   `json:"started"`
	LocalAddr       string `json:"local_addr,omitempty"`
	PendingInbound  int    `json:"pending_inbound"`
	PendingOutbound int    `json:"pending_outbound"`
}

// Network is the relay controller. It owns both queues and both background
// tasks.
type Network struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Application ends of the queues.
	outbound *queue.Sender[message.Message]
	inbound  *queue.Receiver[message.Message]

	// Loop ends of the queues.
	sendRelay *queue.Receiver[message.Message]
	recvRelay *queue.Sender[message.Message]

	mu       sync.Mutex
	conn     *net.UDPConn
	sendTask *taskpool.Task
	recvTask *taskpool.Task
	closed   atomic.Bool
}

// New allocates both queues. No socket is bound and no task is spawned until
// Start. A nil logger discards output and nil metrics record nothing.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Network {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}

	outTx, outRx := queue.New[message.Message](cfg.QueueCapacity)
	inTx, inRx := queue.New[message.Message](cfg.QueueCapacity)

	return &Network{
		cfg:       cfg,
		logger:    logging.OrNop(logger).With(logging.KeyComponent, "relay"),
		metrics:   m,
		outbound:  outTx,
		inbound:   inRx,
		sendRelay: outRx,
		recvRelay: inTx,
	}
}

// Start binds the socket to bindAddress and spawns the send and receive loops
// on scheduler. The task handles are kept but never joined.
//
// A returned error wrapping ErrBind means the relay cannot function; callers
// should abort startup.
func (n *Network) Start(bindAddress netip.AddrPort, scheduler Scheduler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed.Load() {
		return ErrClosed
	}
	if n.conn != nil {
		return ErrAlreadyStarted
	}

	conn, err := Bind(bindAddress, n.cfg.Socket)
	if err != nil {
		return err
	}
	n.conn = conn

	n.sendTask = scheduler.Spawn(SendTaskName, func(ctx context.Context) {
		n.sendLoop(ctx, conn)
	})
	n.recvTask = scheduler.Spawn(RecvTaskName, func(ctx context.Context) {
		n.recvLoop(ctx, conn)
	})

	n.logger.Info("relay listening",
		logging.KeyLocalAddr, conn.LocalAddr().String(),
		"buffer_size", n.cfg.BufferSize)

	return nil
}

// TrySend queues msg for sending without blocking. queue.ErrFull and
// queue.ErrDisconnected are ordinary results, not failures of the relay.
func (n *Network) TrySend(msg message.Message) error {
	if err := n.outbound.Send(msg); err != nil {
		return err
	}
	n.metrics.SetQueueDepth(metrics.DirectionOutbound, n.outbound.Len())
	return nil
}

// TryRecv returns the oldest received message without blocking.
// queue.ErrEmpty is the normal result when nothing has arrived.
func (n *Network) TryRecv() (message.Message, error) {
	msg, err := n.inbound.TryRecv()
	if err != nil {
		return msg, err
	}
	n.metrics.SetQueueDepth(metrics.DirectionInbound, n.inbound.Len())
	return msg, nil
}

// LocalAddr returns the bound socket address.
func (n *Network) LocalAddr() (netip.AddrPort, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		return netip.AddrPort{}, ErrNotStarted
	}
	return unmap(n.conn.LocalAddr().(*net.UDPAddr).AddrPort()), nil
}

// Tasks returns the send and receive task handles, nil before Start.
func (n *Network) Tasks() (send, recv *taskpool.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.sendTask, n.recvTask
}

// Stats returns a snapshot of the relay state. A closed relay reports
// Started as false.
func (n *Network) Stats() Stats {
	s := Stats{
		PendingInbound:  n.inbound.Len(),
		PendingOutbound: n.outbound.Len(),
	}
	if addr, err := n.LocalAddr(); err == nil && !n.closed.Load() {
		s.Started = true
		s.LocalAddr = addr.String()
	}
	return s
}

// Close closes the socket and the application ends of both queues, which
// makes both loops return. Pending outbound messages are discarded.
func (n *Network) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}

	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	n.outbound.Close()
	n.inbound.Close()

	n.logger.Debug("relay closed")
	return err
}

// sendLoop writes each outbound message to its address until the outbound
// queue is disconnected or ctx is done.
func (n *Network) sendLoop(ctx context.Context, conn *net.UDPConn) {
	for {
		msg, err := n.sendRelay.Recv(ctx)
		switch {
		case err == nil:
			n.metrics.SetQueueDepth(metrics.DirectionOutbound, n.sendRelay.Len())
			n.sendMessage(conn, msg)
		case ctx.Err() != nil:
			return
		default:
			// Only reachable once Close has released the application sender.
			n.logger.Warn("failed to dequeue outgoing message", logging.KeyError, err)
			return
		}

		if n.closed.Load() {
			return
		}
	}
}

func (n *Network) sendMessage(conn *net.UDPConn, msg message.Message) {
	written, err := conn.WriteToUDPAddrPort(msg.Payload(), unmap(msg.Address()))
	if err != nil {
		if n.closed.Load() {
			return
		}
		n.metrics.RecordDrop(metrics.DropWriteFailed)
		n.logger.Warn("failed to send datagram",
			logging.KeyDirection, metrics.DirectionOutbound,
			logging.KeyRemoteAddr, msg.Address().String(),
			logging.KeyBytes, msg.Len(),
			logging.KeyError, err)
		return
	}

	n.metrics.RecordSent(written)
	n.logger.Debug("datagram sent",
		logging.KeyRemoteAddr, msg.Address().String(),
		logging.KeyBytes, written)
}

// recvLoop reads datagrams into the inbound queue until the socket is closed
// or ctx is done.
func (n *Network) recvLoop(ctx context.Context, conn *net.UDPConn) {
	// Unblock the pending read when the scheduler shuts down.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, n.cfg.BufferSize)
	for {
		size, _, flags, src, err := conn.ReadMsgUDPAddrPort(buf, nil)
		if err != nil {
			if ctx.Err() != nil || n.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			if isIgnorableReadError(err) {
				n.metrics.RecordReadError(metrics.ReadErrorIgnored)
				continue
			}
			n.metrics.RecordReadError(metrics.ReadErrorOther)
			n.logger.Warn("failed to read datagram", logging.KeyError, err)
			continue
		}

		if truncated(flags) {
			n.metrics.RecordTruncated()
		}
		n.metrics.RecordReceived(size)
		n.recvMessage(unmap(src), buf[:size])
	}
}

func (n *Network) recvMessage(src netip.AddrPort, payload []byte) {
	if err := n.recvRelay.Send(message.New(src, payload)); err != nil {
		n.metrics.RecordDrop(metrics.DropEnqueueFailed)
		n.logger.Warn("failed to enqueue incoming message",
			logging.KeyDirection, metrics.DirectionInbound,
			logging.KeyRemoteAddr, src.String(),
			logging.KeyBytes, len(payload),
			logging.KeyError, err)
		return
	}

	n.metrics.SetQueueDepth(metrics.DirectionInbound, n.recvRelay.Len())
	n.logger.Debug("datagram received",
		logging.KeyRemoteAddr, src.String(),
		logging.KeyBytes, len(payload))
}
