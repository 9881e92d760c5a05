package host

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"golang.org/x/time/rate"

	"github.com/postalsys/udp-relay/internal/config"
	"github.com/postalsys/udp-relay/internal/logging"
	"github.com/postalsys/udp-relay/internal/message"
)

// Client sends its payload to a target every tick and logs whatever comes back.
type Client struct {
	relay   Relay
	target  netip.AddrPort
	payload []byte
	tick    time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a client peer on top of r. A positive cfg.Rate caps the
// number of messages sent per second regardless of the tick.
func NewClient(r Relay, cfg config.ClientConfig, logger *slog.Logger) (*Client, error) {
	target, err := netip.ParseAddrPort(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", cfg.Target, err)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}

	return &Client{
		relay:   r,
		target:  target,
		payload: []byte(cfg.Payload),
		tick:    cfg.Tick,
		limiter: limiter,
		logger:  logging.OrNop(logger).With(logging.KeyComponent, "client"),
	}, nil
}

// Target returns the address messages are sent to.
func (c *Client) Target() netip.AddrPort {
	return c.target
}

// Poll logs every pending inbound message, then sends one message to the
// target if the rate limit allows. It reports whether a message was queued.
func (c *Client) Poll() bool {
	drain(c.relay, func(msg message.Message) {
		logInbound(c.logger, msg)
	})

	if !c.limiter.Allow() {
		return false
	}

	if err := c.relay.TrySend(message.New(c.target, c.payload)); err != nil {
		c.logger.Warn("failed to send message",
			logging.KeyRemoteAddr, c.target.String(),
			logging.KeyError, err,
			"steady_state", isSteadyState(err))
		return false
	}
	return true
}

// Run polls once per tick until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	return runTicker(ctx, c.tick, func() { c.Poll() })
}
