// main.go
// Application entry point: the place server and its console client.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/erilali/place/internal/logger"
	"github.com/erilali/place/internal/transport"
	"github.com/erilali/place/internal/util"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Set at build time.
var version = "dev"

// options are the flags shared by both commands.
type options struct {
	configPath     string
	transport      string
	logLevel       string
	changeInterval time.Duration

	adminAddr string
	natsURL   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "place",
		Short:         "A shared pixel board edited by many clients in real time",
		Version:       version,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "JSON config file")
	pf.StringVar(&opts.transport, "transport", "", "framing: ws or tcp (default ws)")
	pf.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	pf.DurationVar(&opts.changeInterval, "change-interval", 0, "minimum spacing between one client's changes (default 500ms)")

	root.AddCommand(newServerCmd(opts), newClientCmd(opts))
	return root
}

// loadConfig merges the config file, env and the flags set on cmd, then installs the logger.
func loadConfig(cmd *cobra.Command, opts *options) (util.Config, transport.Kind, error) {
	cfg, err := util.LoadConfig(opts.configPath)
	if err != nil {
		return cfg, "", errors.Wrap(err, "load config failed")
	}
	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Transport = opts.transport
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("change-interval") {
		if opts.changeInterval < 0 {
			return cfg, "", errors.New("change interval must not be negative")
		}
		cfg.ChangeIntervalMS = int(opts.changeInterval / time.Millisecond)
	}
	if flags.Changed("admin-addr") {
		cfg.AdminAddr = opts.adminAddr
	}
	if flags.Changed("nats-url") {
		cfg.NatsURL = opts.natsURL
	}
	kind, err := transport.ParseKind(cfg.Transport)
	if err != nil {
		return cfg, "", err
	}
	logger.InitLogger(cfg.Log, nil)
	return cfg, kind, nil
}

func parsePort(s string) (uint16, error) {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil || p == 0 {
		return 0, errors.Errorf("invalid port %q", s)
	}
	return uint16(p), nil
}
