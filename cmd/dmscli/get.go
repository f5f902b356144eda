package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/visitoolkit/dms/pkg/dms"
)

func newGetCmd(opts *rootOptions) *cobra.Command {
	var (
		extInfos  int
		regExPath string
		maxDepth  int
		histStart string
		histEnd   string
		histFmt   string
		interval  int
	)

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Read datapoint value(s)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer client.Close()

			getOpts := &dms.GetOptions{ShowExtInfos: extInfos}
			if regExPath != "" || maxDepth != 0 {
				getOpts.Query = &dms.Query{RegExPath: regExPath}
				if maxDepth != 0 {
					getOpts.Query.MaxDepth = dms.MaxDepth(maxDepth)
				}
			}
			if histStart != "" {
				getOpts.HistData = &dms.HistData{
					Start:    dms.Timestring(histStart),
					End:      dms.Timestring(histEnd),
					Format:   histFmt,
					Interval: interval,
				}
			}

			responses, err := client.Get(cmd.Context(), args[0], getOpts)
			if err != nil {
				return err
			}
			for _, r := range responses {
				printGetResponse(cmd, r)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&extInfos, "ext-infos", 0, "extended-info bitmask (1..127)")
	cmd.Flags().StringVar(&regExPath, "regex-path", "", "query: regex on datapoint paths")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "query: tree depth limit (-1 = unlimited)")
	cmd.Flags().StringVar(&histStart, "hist-start", "", "history read: start timestamp (ISO 8601)")
	cmd.Flags().StringVar(&histEnd, "hist-end", "", "history read: end timestamp (ISO 8601)")
	cmd.Flags().StringVar(&histFmt, "hist-format", "", "history read: compact or detail")
	cmd.Flags().IntVar(&interval, "hist-interval", 0, "history read: sample interval in seconds")
	return cmd
}

func printGetResponse(cmd *cobra.Command, r *dms.GetResponse) {
	cmd.Printf("%s  code=%s value=%v type=%s stamp=%s\n", r.Path, r.Code, r.Value, r.Type, r.Stamp)
	if r.Message != "" {
		cmd.Printf("  message: %s\n", r.Message)
	}
	if r.ExtInfos != nil {
		cmd.Printf("  extInfos: state=%s accType=%s name=%s unit=%s comment=%s\n",
			r.ExtInfos.State, r.ExtInfos.AccType, r.ExtInfos.Name, r.ExtInfos.Unit, r.ExtInfos.Comment)
	}
	if r.HistData != nil {
		shape := "compact"
		if r.HistData.Detail {
			shape = "detail"
		}
		cmd.Printf("  histData (%s, %d points):\n", shape, len(r.HistData.Points))
		for _, p := range r.HistData.Points {
			cmd.Printf("    %s  %v\n", p.Stamp, p.Value)
		}
	}
	if r.Changelog != nil {
		for _, e := range r.Changelog.Entries {
			line := fmt.Sprintf("    %s  %s", e.Stamp, e.Text)
			if r.Changelog.Alarm {
				line += fmt.Sprintf("  [state=%s priority=%d]", e.State, e.Priority)
			}
			cmd.Println(line)
		}
	}
}
