package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/httpscope/httpscope/pkg/persist"
)

func newSweepCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete body files older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := flags.loadSettings()
			if err != nil {
				return err
			}
			dir, err := persist.Open(settings.CaptureDir(), flags.logger())
			if err != nil {
				return err
			}
			defer func() { _ = dir.Close() }()

			removed := dir.Sweep(settings.Retention())
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale body file(s) from %s\n", removed, dir.Path())
			return nil
		},
	}
}

func newClearCmd(flags *rootFlags) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every body file and the session log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear without --yes")
			}
			settings, err := flags.loadSettings()
			if err != nil {
				return err
			}
			dir, err := persist.Open(settings.CaptureDir(), flags.logger())
			if err != nil {
				return err
			}
			defer func() { _ = dir.Close() }()

			// A zero retention window sweeps everything regardless of age.
			removed := dir.Sweep(0)
			if err := dir.Log().Reset(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d body file(s) and the session log in %s\n", removed, dir.Path())
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the clear")
	return cmd
}
