package host

import (
	"context"
	"log/slog"
	"time"

	"github.com/postalsys/udp-relay/internal/config"
	"github.com/postalsys/udp-relay/internal/logging"
	"github.com/postalsys/udp-relay/internal/message"
)

// Server logs every inbound message and replies to its sender.
type Server struct {
	relay  Relay
	reply  []byte
	tick   time.Duration
	logger *slog.Logger
}

// NewServer creates a server peer on top of r.
func NewServer(r Relay, cfg config.ServerConfig, logger *slog.Logger) *Server {
	return &Server{
		relay:  r,
		reply:  []byte(cfg.Reply),
		tick:   cfg.Tick,
		logger: logging.OrNop(logger).With(logging.KeyComponent, "server"),
	}
}

// Poll handles all pending messages once and returns how many it handled.
func (s *Server) Poll() int {
	handled := drain(s.relay, func(msg message.Message) {
		logInbound(s.logger, msg)

		if err := s.relay.TrySend(message.New(msg.Address(), s.reply)); err != nil {
			s.logger.Warn("failed to send reply",
				logging.KeyRemoteAddr, msg.Address().String(),
				logging.KeyError, err,
				"steady_state", isSteadyState(err))
		}
	})
	if handled > 0 {
		s.logger.Debug("replied to messages", logging.KeyCount, handled)
	}
	return handled
}

// Run polls once per tick until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return runTicker(ctx, s.tick, func() { s.Poll() })
}
