package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/erilali/place/internal/board"
	"github.com/erilali/place/internal/client"
	"github.com/erilali/place/internal/console"
	"github.com/erilali/place/internal/logger"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newClientCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "client <host> <port> <identity>",
		Short: "Join a place server from the console",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(3)(cmd, args); err != nil {
				return err
			}
			_, err := parsePort(args[1])
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			port, _ := parsePort(args[1])
			return runClient(cmd, opts, args[0], port, args[2])
		},
	}
}

func runClient(cmd *cobra.Command, opts *options, host string, port uint16, identity string) error {
	cfg, kind, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var con *console.Console
	session, err := client.Dial(ctx, kind, host, port, identity,
		client.WithLogger(logger.NewLogger("client")),
		client.WithChangeInterval(cfg.ChangeInterval()),
		client.OnChange(func(c board.Cell) { con.Changed(c) }),
		client.OnReject(func(reason string) { con.Rejected(reason) }),
	)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Login(ctx); err != nil {
		var rejected *client.RejectedError
		if errors.As(err, &rejected) {
			return errors.New(rejected.Reason)
		}
		return errors.Wrap(err, "login failed")
	}
	con = console.New(session, os.Stdin, os.Stdout)
	con.Intro(session.Welcome())

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()
	inputErr := make(chan error, 1)
	go func() { inputErr <- con.Run(ctx) }()

	select {
	case err := <-runErr:
		if err != nil {
			return errors.Wrap(err, "connection lost")
		}
		fmt.Fprintln(os.Stdout, "Disconnected from server.")
		return nil
	case err := <-inputErr:
		if err != nil && !errors.Is(err, client.ErrClosed) {
			return err
		}
		return nil
	}
}
