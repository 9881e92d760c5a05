// Package main provides the CLI entry point for the UDP relay peers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/postalsys/udp-relay/internal/chaos"
	"github.com/postalsys/udp-relay/internal/config"
	"github.com/postalsys/udp-relay/internal/health"
	"github.com/postalsys/udp-relay/internal/host"
	"github.com/postalsys/udp-relay/internal/loadtest"
	"github.com/postalsys/udp-relay/internal/logging"
	"github.com/postalsys/udp-relay/internal/metrics"
	"github.com/postalsys/udp-relay/internal/relay"
	"github.com/postalsys/udp-relay/internal/sysinfo"
	"github.com/postalsys/udp-relay/internal/taskpool"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "udp-relay",
		Short: "Non-blocking UDP message relay",
		Long: `udp-relay moves address-tagged datagrams between a polling
application loop and a UDP socket served by background tasks.

The server peer answers every datagram it receives; the client peer
sends a message to the server on every tick.`,
		Version:       sysinfo.FullVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(benchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// peer is the polling loop run on top of a started relay.
type peer interface {
	Run(ctx context.Context) error
}

func serverCmd() *cobra.Command {
	var configPath, bind string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the replying server peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("bind") {
				cfg.Server.Bind = bind
			}

			return run(cfg, cfg.Server.Bind, func(r *relay.Network, logger *slog.Logger) (peer, error) {
				return host.NewServer(r, cfg.Server, logger), nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVarP(&bind, "bind", "b", config.DefaultServerBind, "Address to listen on")

	return cmd
}

func clientCmd() *cobra.Command {
	var configPath, bind, target string

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Run the sending client peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("bind") {
				cfg.Client.Bind = bind
			}
			if cmd.Flags().Changed("target") {
				cfg.Client.Target = target
			}

			return run(cfg, cfg.Client.Bind, func(r *relay.Network, logger *slog.Logger) (peer, error) {
				return host.NewClient(r, cfg.Client, logger)
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVarP(&bind, "bind", "b", "127.0.0.1:0", "Local address, port 0 for ephemeral")
	cmd.Flags().StringVarP(&target, "target", "t", config.DefaultServerBind, "Server address to send to")

	return cmd
}

func configCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), cfg.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	return cmd
}

func benchCmd() *cobra.Command {
	var configPath string
	var count, size int
	var perSecond, loss float64
	var drain time.Duration

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure relay throughput and loss over loopback",
		Long: `Start two relays on 127.0.0.1, push numbered datagrams from one to
the other through the queues and report what arrived.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

			pool := taskpool.New(logger, nil)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				pool.Shutdown(ctx)
			}()

			loopback := netip.MustParseAddrPort("127.0.0.1:0")
			relayCfg := relayConfig(cfg)

			dst := relay.New(relayCfg, logger, nil)
			defer dst.Close()
			if err := dst.Start(loopback, pool); err != nil {
				return err
			}
			target, err := dst.LocalAddr()
			if err != nil {
				return err
			}

			src := relay.New(relayCfg, logger, nil)
			defer src.Close()
			if err := src.Start(loopback, pool); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var sender loadtest.Endpoint = src
			var faulty *chaos.FaultyEndpoint
			if loss > 0 {
				faulty = chaos.Wrap(src, chaos.NewFaultInjector(chaos.FaultConfig{
					Type:        chaos.FaultDrop,
					Probability: loss,
				}))
				sender = faulty
			}

			gen := loadtest.NewDatagramLoadGenerator(count, size, perSecond)
			gen.SetDrainWait(drain)

			m, err := gen.Run(ctx, sender, dst, target)
			if err != nil {
				return fmt.Errorf("bench failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Sent:        %s datagrams (%s)\n", humanize.Comma(m.Sent), humanize.IBytes(uint64(m.BytesSent)))
			fmt.Fprintf(out, "Rejected:    %s\n", humanize.Comma(m.SendFailed))
			if faulty != nil {
				fmt.Fprintf(out, "Injected:    %s drops\n", humanize.Comma(faulty.Injector().GetStats()[chaos.FaultDrop]))
			}
			fmt.Fprintf(out, "Received:    %s datagrams (%s)\n", humanize.Comma(m.Received), humanize.IBytes(uint64(m.BytesReceived)))
			fmt.Fprintf(out, "Reordered:   %s\n", humanize.Comma(m.Reordered))
			fmt.Fprintf(out, "Loss:        %.2f%%\n", m.LossPercent)
			fmt.Fprintf(out, "Duration:    %s\n", m.Duration.Round(time.Millisecond))
			fmt.Fprintf(out, "Rate:        %s msg/s\n", humanize.CommafWithDigits(m.MessagesPerSecond, 0))
			fmt.Fprintf(out, "Throughput:  %s/s\n", humanize.IBytes(uint64(m.ThroughputMBps*1024*1024)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().IntVarP(&count, "count", "n", 10000, "Number of datagrams to send")
	cmd.Flags().IntVarP(&size, "size", "s", 512, "Payload size in bytes (minimum 8)")
	cmd.Flags().Float64VarP(&perSecond, "rate", "r", 0, "Datagrams per second, 0 for unlimited")
	cmd.Flags().Float64Var(&loss, "loss", 0, "Fraction of datagrams to drop before sending (0.0 to 1.0)")
	cmd.Flags().DurationVar(&drain, "drain", time.Second, "How long to wait for stragglers")

	return cmd
}

// relayConfig maps the relay section of cfg onto relay.Config.
func relayConfig(cfg *config.Config) relay.Config {
	return relay.Config{
		BufferSize:    cfg.Relay.BufferSize,
		QueueCapacity: cfg.Relay.QueueCapacity,
		Socket: relay.SocketOptions{
			ReadBuffer:  cfg.Relay.ReadBufferBytes(),
			WriteBuffer: cfg.Relay.WriteBufferBytes(),
			TTL:         cfg.Relay.TTL,
			TOS:         cfg.Relay.TOS,
		},
	}
}

// loadConfig returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// run starts a relay on bind, drives it with the peer built by newPeer until
// SIGINT/SIGTERM, then shuts everything down.
func run(cfg *config.Config, bind string, newPeer func(*relay.Network, *slog.Logger) (peer, error)) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting udp-relay", "version", sysinfo.FullVersion())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetricsWithRegistry(reg)

	pool := taskpool.New(logger, m.RecordTaskPanic)
	network := relay.New(relayConfig(cfg), logger, m)

	if err := network.Start(relay.MustParseAddress(bind), pool); err != nil {
		// A relay that cannot bind cannot function.
		logger.Error("failed to start relay", logging.KeyAddress, bind, logging.KeyError, err)
		return err
	}

	var healthServer *health.Server
	if cfg.Health.Enabled {
		healthServer = health.NewServer(health.ServerConfig{
			Address:      cfg.Health.Address,
			ReadTimeout:  cfg.Health.ReadTimeout,
			WriteTimeout: cfg.Health.WriteTimeout,
		}, network, reg, logger)
		if err := healthServer.Start(); err != nil {
			network.Close()
			return fmt.Errorf("failed to start health server: %w", err)
		}
	}

	p, err := newPeer(network, logger)
	if err != nil {
		network.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := p.Run(ctx)
	logger.Info("shutting down")

	if healthServer != nil {
		healthServer.Stop()
	}
	network.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("background tasks did not stop", logging.KeyError, err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
