package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/erilali/place/internal/api"
	"github.com/erilali/place/internal/board"
	"github.com/erilali/place/internal/hub"
	"github.com/erilali/place/internal/logger"
	"github.com/erilali/place/internal/transport"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const hubShutdownTimeout = 5 * time.Second

func newServerCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server <port> <dim>",
		Short: "Run a place server with a dim x dim board",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(2)(cmd, args); err != nil {
				return err
			}
			if _, err := parsePort(args[0]); err != nil {
				return err
			}
			if dim, err := strconv.Atoi(args[1]); err != nil || dim < 1 || dim > transport.MaxGridDim {
				return errors.Errorf("dim must be an integer in [1, %d], got %q", transport.MaxGridDim, args[1])
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			port, _ := parsePort(args[0])
			dim, _ := strconv.Atoi(args[1])
			return runServer(cmd, opts, port, dim)
		},
	}
	cmd.Flags().StringVar(&opts.adminAddr, "admin-addr", "", "HTTP address for health and metrics in tcp mode")
	cmd.Flags().StringVar(&opts.natsURL, "nats-url", "", "NATS server for the event feed (disabled when empty)")
	return cmd
}

func runServer(cmd *cobra.Command, opts *options, port uint16, dim int) error {
	cfg, kind, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	serverLogger := logger.NewLogger("server")
	serverLogger.WithFields(map[string]interface{}{
		"port":      port,
		"dim":       dim,
		"transport": string(kind),
		"level":     cfg.Log.Level,
	}).Info("Starting server")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grid, err := board.NewSquareGrid(dim)
	if err != nil {
		return errors.Wrap(err, "create grid failed")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hubCfgs := []hub.Cfg{
		hub.WithLogger(logger.NewLogger("hub")),
		hub.WithMetrics(hub.NewMetrics(reg)),
		hub.WithChangeInterval(cfg.ChangeInterval()),
	}
	apiCfgs := []api.Cfg{
		api.WithGatherer(reg),
		api.WithVersion(version),
		api.WithLogger(logger.NewLogger("api")),
	}
	if cfg.NatsURL != "" {
		nc, js := api.ConnectNATS(cfg.NatsURL, serverLogger)
		if nc != nil {
			defer nc.Close()
		}
		if js != nil {
			hubCfgs = append(hubCfgs, hub.WithPublisher(hub.NewNATSPublisher(js, logger.NewLogger("nats"))))
		}
		apiCfgs = append(apiCfgs, api.WithNATS(nc, js))
	}

	h, err := hub.NewHub(grid, hubCfgs...)
	if err != nil {
		return errors.Wrap(err, "create hub failed")
	}
	apiServer, err := api.NewServer(h, apiCfgs...)
	if err != nil {
		return errors.Wrap(err, "create api server failed")
	}

	addr := fmt.Sprintf(":%d", port)
	switch kind {
	case transport.KindTCP:
		if cfg.AdminAddr != "" {
			go func() {
				if err := apiServer.Run(ctx, cfg.AdminAddr, apiServer.Router(false)); err != nil {
					serverLogger.Errorf("Admin server stopped: %v", err)
				}
			}()
		}
		err = h.ListenAndServe(ctx, addr)
	default:
		err = apiServer.Run(ctx, addr, apiServer.Router(true))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), hubShutdownTimeout)
	defer cancel()
	if serr := h.Shutdown(shutdownCtx); serr != nil {
		serverLogger.Warnf("Hub shutdown: %v", serr)
	}
	serverLogger.Info("Server stopped")
	return err
}
