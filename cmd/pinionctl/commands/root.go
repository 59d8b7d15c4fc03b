package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luciancaetano/pinion/internal/logging"
)

var (
	configPath string
	logLevel   string
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pinionctl",
		Short:         "Talk to route-based WebSocket application servers",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			if logLevel != "" && !logging.SetLevel(logLevel) {
				return fmt.Errorf("unknown log level %q", logLevel)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	root.AddCommand(requestCmd(), notifyCmd(), listenCmd(), serveCmd())
	return root
}
