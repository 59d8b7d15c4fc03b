package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luciancaetano/pinion"
)

// listen: print pushes as JSON lines until interrupted or disconnected.
func listenCmd() *cobra.Command {
	var (
		flags clientFlags
		join  string
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect and print pushed messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolve(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, err := dial(ctx, cfg)
			if err != nil {
				return err
			}
			defer conn.close()

			if join != "" {
				if _, err := conn.sess.Call(ctx, join, map[string]any{}); err != nil {
					return err
				}
			}
			return listen(ctx, conn)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&join, "join", "", "route to request once connected, e.g. a room join")
	return cmd
}

func listen(ctx context.Context, conn *connection) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-conn.events:
			switch e := ev.(type) {
			case pinion.PushEvent:
				if err := printJSON(map[string]any{"route": e.Route, "body": e.Body}); err != nil {
					return err
				}
			case pinion.KickEvent:
				if err := printJSON(map[string]any{"kick": e.Reason}); err != nil {
					return err
				}
			default:
				if err := eventError(ev); err != nil {
					return err
				}
			}
		}
	}
}
