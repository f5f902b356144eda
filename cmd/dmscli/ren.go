package main

import (
	"github.com/spf13/cobra"
)

func newRenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ren <path> <newPath>",
		Short: "Rename a datapoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Rename(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			cmd.Printf("%s -> %s  code=%s\n", resp.Path, resp.NewPath, resp.Code)
			if resp.Message != "" {
				cmd.Printf("  message: %s\n", resp.Message)
			}
			return nil
		},
	}
}
