// ABOUTME: The discover command
// ABOUTME: Lists stream servers answering on mDNS
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/resonate-av/internal/discovery"
)

func newDiscoverCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List stream servers on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closeLog, err := setupLogging(globalConfig.Log, true, os.Stdout)
			if err != nil {
				return err
			}
			defer closeLog()

			mgr := discovery.NewManager(discovery.Config{Logger: log})
			defer mgr.Stop()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			seen := make(map[string]bool)
			out := cmd.OutOrStdout()
			for info := range mgr.Browse(ctx) {
				key := info.Addr() + info.Path
				if seen[key] {
					continue
				}
				seen[key] = true
				fmt.Fprintf(out, "%-30s ws://%s%s\n", info.Name, info.Addr(), info.Path)
			}
			if len(seen) == 0 {
				return discovery.ErrNotFound
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to listen")
	return cmd
}
