package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/visitoolkit/dms/pkg/dms"
)

func newMonitorCmd(opts *rootOptions) *cobra.Command {
	var (
		eventMask int
		maxDepth  int
	)

	cmd := &cobra.Command{
		Use:   "monitor <path>",
		Short: "Subscribe to datapoint events and print them until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer client.Close()

			subOpts := &dms.SubscribeOptions{Event: eventMask}
			if maxDepth != 0 {
				subOpts.Query = &dms.Query{MaxDepth: dms.MaxDepth(maxDepth)}
			}
			sub, err := client.Subscribe(cmd.Context(), args[0], subOpts)
			if err != nil {
				return err
			}
			cmd.Printf("Subscribed to %s (tag %s); press Ctrl-C to stop\n", sub.Path(), sub.Tag())

			sub.AddListener(func(ev dms.Event) {
				cmd.Printf("%s  %s  %s = %v (stamp %s)\n", ev.Code, ev.Path, ev.Type, ev.Value, ev.Stamp)
				if ev.NewPath != "" {
					cmd.Printf("  renamed to %s\n", ev.NewPath)
				}
			})

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			select {
			case <-stop:
			case <-cmd.Context().Done():
			}

			return sub.Unsubscribe(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&eventMask, "events", dms.OnAll, "event bitmask (1..31)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "monitor the subtree down to this depth (-1 = unlimited)")
	return cmd
}
