// Command webserv starts the HTTP server described by an nginx-like
// configuration file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourusername/webserv/internal/applog"
	"github.com/yourusername/webserv/internal/config"
	"github.com/yourusername/webserv/internal/eventloop"
	"github.com/yourusername/webserv/internal/router"
)

// defaultConfigPath is used when no positional argument is given.
const defaultConfigPath = "config/default.conf"

var debug bool

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "webserv [config_file]",
		Short:         "A minimal HTTP/1.1 web server",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "enable human-readable debug logging")
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	path := defaultConfigPath
	if len(args) == 1 {
		path = args[0]
	}

	log, err := applog.New(debug)
	if err != nil {
		return fmt.Errorf("webserv: building logger: %w", err)
	}
	defer log.Sync()

	model, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("webserv: %w", err)
	}

	rtr := router.New(model)
	loop, err := eventloop.New(model, rtr, log)
	if err != nil {
		return fmt.Errorf("webserv: %w", err)
	}
	if err := loop.Listen(); err != nil {
		return fmt.Errorf("webserv: %w", err)
	}

	stopSignals := loop.HandleSignals()
	defer stopSignals()

	log.Info("webserv started", zap.String("config", path))
	return loop.Run()
}
