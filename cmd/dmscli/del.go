package main

import (
	"github.com/spf13/cobra"

	"github.com/visitoolkit/dms/pkg/dms"
)

func newDelCmd(opts *rootOptions) *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "del <path>",
		Short: "Delete a datapoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer client.Close()

			// The flag is sent explicitly even when false; delete is the one
			// command where relying on a server default is a bad idea.
			resp, err := client.Delete(cmd.Context(), args[0], &dms.DeleteOptions{
				Recursive: dms.Recursive(recursive),
			})
			if err != nil {
				return err
			}
			cmd.Printf("%s  code=%s\n", resp.Path, resp.Code)
			if resp.Message != "" {
				cmd.Printf("  message: %s\n", resp.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&recursive, "recursive", false, "delete the whole subtree")
	return cmd
}
