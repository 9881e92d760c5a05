// Package loadtest measures relay throughput and loss by pushing numbered
// datagrams from one endpoint to another.
package loadtest

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/time/rate"

	"github.com/postalsys/udp-relay/internal/message"
)

// minPayloadSize holds the sequence number.
const minPayloadSize = 8

// Endpoint is the polling surface of a started relay.
type Endpoint interface {
	TrySend(msg message.Message) error
	TryRecv() (message.Message, error)
}

// DatagramMetrics contains the results of a datagram load run.
type DatagramMetrics struct {
	Sent          int64
	SendFailed    int64
	Received      int64
	Reordered     int64
	BytesSent     int64
	BytesReceived int64
	Duration      time.Duration

	LossPercent       float64
	MessagesPerSecond float64
	ThroughputMBps    float64
}

// DatagramLoadGenerator sends a fixed number of datagrams and counts what
// arrives.
type DatagramLoadGenerator struct {
	count       int
	payloadSize int
	limiter     *rate.Limiter
	drainWait   time.Duration
}

// NewDatagramLoadGenerator creates a generator sending count datagrams of
// payloadSize bytes. A rate of 0 sends as fast as the queue accepts.
func NewDatagramLoadGenerator(count, payloadSize int, perSecond float64) *DatagramLoadGenerator {
	if payloadSize < minPayloadSize {
		payloadSize = minPayloadSize
	}

	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}

	return &DatagramLoadGenerator{
		count:       count,
		payloadSize: payloadSize,
		limiter:     rate.NewLimiter(limit, 1),
		drainWait:   500 * time.Millisecond,
	}
}

// SetDrainWait sets how long Run keeps polling for stragglers after the last
// send.
func (g *DatagramLoadGenerator) SetDrainWait(d time.Duration) {
	g.drainWait = d
}

// Run sends from src to target and receives on dst. Datagrams still missing
// after the drain wait count as lost.
func (g *DatagramLoadGenerator) Run(ctx context.Context, src, dst Endpoint, target netip.AddrPort) (*DatagramMetrics, error) {
	if g.count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", g.count)
	}

	payload := make([]byte, g.payloadSize)
	rand.Read(payload)

	m := &DatagramMetrics{}
	var lastSeq uint64
	startTime := time.Now()

	for i := 0; i < g.count; i++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		binary.BigEndian.PutUint64(payload, uint64(i+1))
		if err := src.TrySend(message.New(target, payload)); err != nil {
			m.SendFailed++
		} else {
			m.Sent++
			m.BytesSent += int64(len(payload))
		}

		g.drain(dst, m, &lastSeq)
	}

	deadline := time.Now().Add(g.drainWait)
	for m.Received < m.Sent && time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if g.drain(dst, m, &lastSeq) == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	m.Duration = time.Since(startTime)
	if m.Sent > 0 {
		m.LossPercent = float64(m.Sent-m.Received) / float64(m.Sent) * 100
	}
	if seconds := m.Duration.Seconds(); seconds > 0 {
		m.MessagesPerSecond = float64(m.Received) / seconds
		m.ThroughputMBps = float64(m.BytesReceived) / (1024 * 1024) / seconds
	}

	return m, nil
}

// drain receives everything currently queued on dst.
func (g *DatagramLoadGenerator) drain(dst Endpoint, m *DatagramMetrics, lastSeq *uint64) int {
	n := 0
	for {
		msg, err := dst.TryRecv()
		if err != nil {
			// queue.ErrEmpty, or the relay was closed.
			return n
		}
		n++

		m.Received++
		m.BytesReceived += int64(msg.Len())

		if msg.Len() >= minPayloadSize {
			seq := binary.BigEndian.Uint64(msg.Payload())
			if seq < *lastSeq {
				m.Reordered++
			} else {
				*lastSeq = seq
			}
		}
	}
}
