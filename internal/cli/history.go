package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ticktock/internal/app"
	"ticktock/internal/config"
	"ticktock/internal/storage"
	"ticktock/internal/task/timer"
	logx "ticktock/pkg/logx"
)

func newHistoryCommand(cfgPath *string) *cobra.Command {
	var (
		tag    string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent task events from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(*cfgPath).Parse()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cfg, logx.Nop())
			if err != nil {
				return err
			}
			if st == nil {
				return fmt.Errorf("%w: set storage.driver in %s", storage.ErrDisabled, *cfgPath)
			}
			defer st.Close()

			entries, err := st.Recent(cmd.Context(), storage.Query{Tag: tag, Limit: limit})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(out, "No entries.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			_, _ = fmt.Fprintln(tw, "TIME\tTAG\tEVENT\tFIRES\tREMAINING\tERROR")
			for _, e := range entries {
				remaining := "-"
				if e.Kind == timer.KindCountDown.String() {
					remaining = fmt.Sprint(e.Remaining)
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					e.At.Local().Format(time.DateTime), e.Tag, e.Event, e.Fires, remaining, e.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "only show events of this task")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}
