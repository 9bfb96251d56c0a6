package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/transitlive/cmd/transitlive/app/options"
	"github.com/autopeer-io/transitlive/internal/transit/model"
	"github.com/autopeer-io/transitlive/pkg/app"
	"github.com/autopeer-io/transitlive/pkg/log"
)

func newFleetCommand(opts *options.AgentOptions, root func() *app.App) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "fleet",
		Short: "Poll the backend once and print the fleet view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := root().LoadOptions(cmd); err != nil {
				return err
			}
			log.Init(opts.Log)

			cfg, err := opts.Config(Version())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			views, err := cfg.PollOnce(ctx)
			if err != nil {
				return fmt.Errorf("fleet poll failed: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), fleetTable(views, time.Now()))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Deadline of the poll.")
	return cmd
}

func fleetTable(views []model.VehicleView, now time.Time) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 32
	table.AddRow("VEHICLE", "ROUTE", "STATUS", "OCCUPANCY", "FRESHNESS", "POSITION", "UPDATED")
	for _, v := range views {
		route := v.RouteName
		if route == "" {
			route = v.RouteID
		}
		table.AddRow(
			v.VehicleID,
			route,
			v.TrackingStatus,
			fmt.Sprintf("%.0f%% (%s)", v.OccupancyPercentage, v.OccupancyTier),
			v.Freshness,
			fmt.Sprintf("%.5f,%.5f", v.Latitude, v.Longitude),
			now.Sub(v.LastUpdateAt).Truncate(time.Second).String()+" ago",
		)
	}
	return table
}
