package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Beacon/internal/app/location"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/spf13/cobra"
)

var (
	statsSince  time.Duration
	statsUser   string
	statsLimit  int
	statsPoints bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print location statistics for the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := build(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.Close(ctx)

		s, err := d.auth.Restore(ctx)
		if err != nil {
			return fmt.Errorf("sign in first: %w", err)
		}
		user := s.User.ID
		if statsUser != "" {
			user = domain.UserID(statsUser)
		}
		w := location.Window{Limit: statsLimit}
		if statsSince > 0 {
			w.From = time.Now().Add(-statsSince)
		}
		rep, err := d.services.Location.Stats(ctx, user, w)
		if err != nil {
			return err
		}
		if !statsPoints {
			rep.Points = nil
		}
		out, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		printJSON(cmd, out)
		return nil
	},
}

func init() {
	statsCmd.Flags().DurationVar(&statsSince, "since", 24*time.Hour, "window length ending now, 0 for all history")
	statsCmd.Flags().StringVar(&statsUser, "user", "", "user id, defaults to the signed-in user")
	statsCmd.Flags().IntVar(&statsLimit, "limit", 0, "maximum points")
	statsCmd.Flags().BoolVar(&statsPoints, "points", false, "include the raw points")
}
