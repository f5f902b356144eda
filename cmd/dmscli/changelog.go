package main

import (
	"github.com/spf13/cobra"

	"github.com/visitoolkit/dms/pkg/dms"
)

func newChangelogCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changelog",
		Short: "Read changelog groups and entries",
	}
	cmd.AddCommand(newChangelogGroupsCmd(opts), newChangelogReadCmd(opts))
	return cmd
}

func newChangelogGroupsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List the available changelog groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.ChangelogGetGroups(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("code=%s\n", resp.Code)
			for _, group := range resp.Groups {
				cmd.Println(group)
			}
			return nil
		},
	}
}

func newChangelogReadCmd(opts *rootOptions) *cobra.Command {
	var end string

	cmd := &cobra.Command{
		Use:   "read <group> <start>",
		Short: "Read protocol entries of a changelog group since <start> (ISO 8601)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer client.Close()

			var readOpts *dms.ChangelogReadOptions
			if end != "" {
				readOpts = &dms.ChangelogReadOptions{End: dms.Timestring(end)}
			}
			resp, err := client.ChangelogRead(cmd.Context(), args[0], dms.Timestring(args[1]), readOpts)
			if err != nil {
				return err
			}
			cmd.Printf("group=%s code=%s entries=%d\n", resp.Group, resp.Code, len(resp.Changelog))
			for _, e := range resp.Changelog {
				cmd.Printf("%s  %s  %s\n", e.Stamp, e.Path, e.Text)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&end, "end", "", "end timestamp (ISO 8601)")
	return cmd
}
