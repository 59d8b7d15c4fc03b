package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

// request <route> [json]: send a request and print the response body.
func requestCmd() *cobra.Command {
	var (
		flags   clientFlags
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "request <route> [json]",
		Short: "Send a request and print the response",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			payload, err := parsePayload(args[1:])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			conn, err := dial(ctx, cfg)
			if err != nil {
				return err
			}
			defer conn.close()

			body, err := conn.sess.Call(ctx, args[0], payload)
			if err != nil {
				return err
			}
			return printJSON(body)
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall timeout")
	return cmd
}
