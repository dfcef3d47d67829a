package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ticktock/internal/config"
)

// ErrInvalidConfig is returned by validate after the problems have been printed.
var ErrInvalidConfig = errors.New("config is invalid")

func newValidateCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and print the declared tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(*cfgPath).Parse()
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				for _, line := range strings.Split(err.Error(), "\n") {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", line)
				}
				return ErrInvalidConfig
			}
			plans, err := cfg.Plan()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s: ok (%d tasks)\n", *cfgPath, len(plans))
			if len(plans) == 0 {
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			_, _ = fmt.Fprintln(tw, "TAG\tPOLICY\tPERIOD\tFIRST\tSTART")
			for _, p := range plans {
				start := "auto"
				if p.Manual {
					start = "manual"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Tag, p.Kind, fmtDuration(p.Period), firstFiring(cfg, p), start)
			}
			return tw.Flush()
		},
	}
}

func firstFiring(cfg *config.Config, p config.TaskPlan) string {
	if p.Align == nil {
		return "+" + fmtDuration(p.InitialDelay)
	}
	loc, err := cfg.Location()
	if err != nil {
		loc = time.Local
	}
	return p.Align.Next(time.Now().In(loc)).Format(time.RFC3339)
}

func fmtDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.String()
}
