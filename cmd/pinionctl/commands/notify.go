package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// notify <route> [json]: send a one-way message.
func notifyCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "notify <route> [json]",
		Short: "Send a notify message",
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

			conn, err := dial(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.close()

			if err := conn.sess.Notify(args[0], payload); err != nil {
				return err
			}
			fmt.Println("sent")
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
