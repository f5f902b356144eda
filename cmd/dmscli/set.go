package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/visitoolkit/dms/pkg/dms"
)

func newSetCmd(opts *rootOptions) *cobra.Command {
	var (
		create    bool
		valueType string
		stamp     string
	)

	cmd := &cobra.Command{
		Use:   "set <path> <value>",
		Short: "Write a datapoint value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer client.Close()

			setOpts := &dms.SetOptions{
				Create: create,
				Type:   valueType,
				Stamp:  dms.Timestring(stamp),
			}
			resp, err := client.Set(cmd.Context(), args[0], coerceValue(args[1], valueType), setOpts)
			if err != nil {
				return err
			}
			cmd.Printf("%s  code=%s value=%v stamp=%s\n", resp.Path, resp.Code, resp.Value, resp.Stamp)
			return nil
		},
	}

	cmd.Flags().BoolVar(&create, "create", false, "create the datapoint if it does not exist")
	cmd.Flags().StringVar(&valueType, "type", "", "force value type: int, double, string or bool")
	cmd.Flags().StringVar(&stamp, "stamp", "", "override the write timestamp (ISO 8601)")
	return cmd
}

// coerceValue interprets the CLI string according to the requested type; the
// DMS otherwise derives the datapoint type from the JSON value type.
func coerceValue(raw, valueType string) any {
	switch valueType {
	case "int":
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	case "double":
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	case "bool":
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	}
	return raw
}
