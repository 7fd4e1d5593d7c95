package main

import (
	"time"

	"github.com/spf13/cobra"
)

func newGetCmd(root *rootOptions) *cobra.Command {
	var (
		format string
		body   bool
	)

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Fetch an endpoint once through the resilient client",
		Long: `Fetch an endpoint once through the resilient client and print the snapshot.
Transient failures are retried and counted by the circuit breaker; the command
fails with the normalized error code when the fetch does not succeed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := root.request(args[0])
			if err != nil {
				return err
			}
			layer, err := root.newLayer(cmd)
			if err != nil {
				return err
			}
			defer layer.Close()

			snap, fetchErr := layer.FetchRequest(cmd.Context(), req)
			if err := printSnapshot(cmd.OutOrStdout(), format, snap, time.Now(), body); err != nil {
				return err
			}
			return fetchErr
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", formatText, "Output format (text, json)")
	cmd.Flags().BoolVar(&body, "body", true, "Print the response payload in text output")
	return cmd
}
