package cli

import (
	"context"
	"fmt"
	"time"

	gs "github.com/dmitrijs2005/levelstore/internal/server/grpc"
	"github.com/spf13/cobra"
)

// waitForServing is a seam for tests.
var waitForServing = gs.WaitForServing

func newPingCmd(o *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ping [address]",
		Short: "Wait until a running server reports healthy",
		Long: `Poll the gRPC health endpoint of a running server. Without an address
the configured health address is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var addr string
			if len(args) == 1 {
				addr = args[0]
			} else {
				cfg, err := o.loadConfig(cmd)
				if err != nil {
					return err
				}
				addr = cfg.HealthAddr
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := waitForServing(ctx, addr); err != nil {
				return fmt.Errorf("server at %s is not serving: %w", addr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is serving\n", addr)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait")
	return cmd
}
