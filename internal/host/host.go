// Package host contains the two peer applications that drive a relay from a
// single polling goroutine: a server that answers every datagram and a client
// that sends a message every tick.
package host

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/postalsys/udp-relay/internal/logging"
	"github.com/postalsys/udp-relay/internal/message"
	"github.com/postalsys/udp-relay/internal/queue"
)

// Relay is the non-blocking surface of *relay.Network used by the peers.
type Relay interface {
	TrySend(msg message.Message) error
	TryRecv() (message.Message, error)
}

// drain handles every pending inbound message and returns how many there were.
// It stops at the first TryRecv error; ErrEmpty is the usual one.
func drain(r Relay, handle func(message.Message)) int {
	handled := 0
	for {
		msg, err := r.TryRecv()
		if err != nil {
			return handled
		}
		handle(msg)
		handled++
	}
}

// logInbound logs msg as text, or warns when the payload is not UTF-8.
func logInbound(logger *slog.Logger, msg message.Message) {
	if !utf8.Valid(msg.Payload()) {
		logger.Warn("got malformed string", logging.KeyRemoteAddr, msg.Address().String())
		return
	}
	logger.Info("got message",
		"text", string(msg.Payload()),
		logging.KeyRemoteAddr, msg.Address().String())
}

// runTicker calls poll once per tick until ctx is done.
func runTicker(ctx context.Context, tick time.Duration, poll func()) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			poll()
		}
	}
}

// isSteadyState reports whether err is an expected queue result rather than
// a failure worth more than a warning.
func isSteadyState(err error) bool {
	return errors.Is(err, queue.ErrFull) || errors.Is(err, queue.ErrDisconnected)
}
