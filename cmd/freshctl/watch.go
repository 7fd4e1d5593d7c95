package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LavishGent/freshline/pkg/freshline"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var (
		format   string
		body     bool
		interval time.Duration
		stale    time.Duration
		count    int
	)

	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Poll an endpoint and print every refresh",
		Long: `Subscribe to an endpoint and print a snapshot after every refresh attempt.
Failed polls keep the last known payload and back off exponentially up to
cache.maxPollBackoff. Stops on interrupt or after --count updates.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return errors.New("--interval must be positive")
			}
			req, err := root.request(args[0])
			if err != nil {
				return err
			}
			layer, err := root.newLayer(cmd)
			if err != nil {
				return err
			}
			defer layer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			updates := make(chan freshline.Update, 16)
			sub, err := layer.SubscribeRequest(req, freshline.SubscribeOptions{
				Interval:       interval,
				StaleThreshold: stale,
				Listener: func(u freshline.Update) {
					select {
					case updates <- u:
					default:
					}
				},
			})
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()

			return printUpdates(ctx, cmd, updates, format, body, count)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", formatText, "Output format (text, json)")
	cmd.Flags().BoolVar(&body, "body", false, "Print the response payload in text output")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 10*time.Second, "Polling interval")
	cmd.Flags().DurationVar(&stale, "stale-after", 0, "Report data older than this as stale (default cache.staleThreshold)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Stop after this many updates (0 runs until interrupted)")
	return cmd
}

func printUpdates(ctx context.Context, cmd *cobra.Command, updates <-chan freshline.Update, format string, body bool, count int) error {
	for seen := 0; count <= 0 || seen < count; seen++ {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			if err := printSnapshot(cmd.OutOrStdout(), format, u.Snapshot, time.Now(), body); err != nil {
				return err
			}
		}
	}
	return nil
}
