package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"lpr-service/internal/app"
	"lpr-service/internal/config"
	"lpr-service/internal/logger"
	"lpr-service/internal/repository"
	"lpr-service/internal/service"
)

type cli struct {
	cmd *cobra.Command

	configPath string
	verbosity  int
}

type runFlags struct {
	days       int
	dryRun     bool
	thumbnails bool
	workers    int
}

func newCLI() *cli {
	c := &cli{}
	c.cmd = &cobra.Command{
		Use:           "lpr-backfill",
		Short:         "Replay historical UniFi Protect plate detections into the sink",
		SilenceErrors: true,
		Args:          cobra.NoArgs,
	}
	c.cmd.CompletionOptions.HiddenDefaultCmd = true
	c.cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to the configuration file")
	c.cmd.PersistentFlags().CountVarP(&c.verbosity, "verbose", "v", "issue DEBUG (-v), TRACE (-vv)")

	installRunCmd(c)
	installSyncCamerasCmd(c)
	installPruneCmd(c)
	installSetLocationCmd(c)
	return c
}

func installRunCmd(c *cli) {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch past smart detection events and write their plates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			days := flags.days
			if days == 0 {
				days = a.Config.Backfill.Days
			}
			if days <= 0 {
				return fmt.Errorf("days must be positive, got %d", days)
			}
			workers := flags.workers
			if workers == 0 {
				workers = a.Config.Backfill.Workers
			}

			svc, err := a.NewBackfill(workers, flags.thumbnails)
			if err != nil {
				return err
			}
			summary, err := svc.Run(cmd.Context(), time.Duration(days)*24*time.Hour, flags.dryRun)
			if summary != nil {
				printBackfillSummary(cmd.OutOrStdout(), summary)
			}
			if err != nil {
				return err
			}
			if n := len(summary.Errors); n > 0 {
				return fmt.Errorf("%d event(s) failed", n)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&flags.days, "days", "d", 0, "number of days to look back (default from config)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "process events without writing records")
	cmd.Flags().BoolVar(&flags.thumbnails, "thumbnails", true, "store thumbnails when enabled in config")
	cmd.Flags().IntVarP(&flags.workers, "workers", "w", 0, "concurrent events per chunk (default from config)")

	c.cmd.AddCommand(cmd)
}

func installSyncCamerasCmd(c *cli) {
	cmd := &cobra.Command{
		Use:   "sync-cameras",
		Short: "Copy camera names and models from the NVR into the camera registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			cs, err := a.NewCameraSync()
			if err != nil {
				return err
			}
			summary, err := cs.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "cameras: %d seen, %d created, %d updated, %d failed\n",
				summary.Seen, summary.Created, summary.Updated, summary.Failed)
			if summary.Failed > 0 {
				return fmt.Errorf("%d camera(s) failed to sync", summary.Failed)
			}
			return nil
		},
	}

	c.cmd.AddCommand(cmd)
}

func installPruneCmd(c *cli) {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete detections older than the given number of days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			deleted, err := a.Detections.CleanupOldDetections(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d detection(s) older than %d day(s)\n", deleted, days)
			return nil
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 0, "retention in days")
	if err := cmd.MarkFlagRequired("days"); err != nil {
		panic(fmt.Errorf("failed to mark days flag as required: %w", err))
	}

	c.cmd.AddCommand(cmd)
}

func installSetLocationCmd(c *cli) {
	var (
		update   repository.LocationUpdate
		lat, lng float64
	)

	cmd := &cobra.Command{
		Use:   "set-location",
		Short: "Set the location label and coordinates of a camera in the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			if cmd.Flags().Changed("lat") {
				update.Latitude = &lat
			}
			if cmd.Flags().Changed("lng") {
				update.Longitude = &lng
			}

			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := a.NewCameraLocator().SetLocation(cmd.Context(), update)
			if err != nil {
				return err
			}
			verb := "updated"
			if created {
				verb = "registered"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "camera %s %s\n", update.CameraID, verb)
			return nil
		},
	}
	cmd.Flags().StringVar(&update.CameraID, "camera-id", "", "camera id as reported by the NVR")
	cmd.Flags().StringVar(&update.Location, "location", "", "location label, e.g. an address or site name")
	cmd.Flags().StringVar(&update.Name, "name", "", "camera name used when the camera is not registered yet")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude in decimal degrees")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude in decimal degrees")
	if err := cmd.MarkFlagRequired("camera-id"); err != nil {
		panic(fmt.Errorf("failed to mark camera-id flag as required: %w", err))
	}
	cmd.MarkFlagsRequiredTogether("lat", "lng")

	c.cmd.AddCommand(cmd)
}

// open loads configuration and builds the shared components.
func (c *cli) open(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	cfg.Log.Level = verbosityLevel(cfg.Log.Level, c.verbosity)

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty).With().Str("command", cmd.Name()).Logger()
	return app.New(cmd.Context(), cfg, log)
}

func verbosityLevel(configured string, verbosity int) string {
	switch {
	case verbosity >= 2:
		return "trace"
	case verbosity == 1:
		return "debug"
	default:
		return configured
	}
}

func printBackfillSummary(w io.Writer, s *service.BackfillSummary) {
	mode := "live"
	if s.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(w, "backfill %s to %s (%s)\n", s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339), mode)
	fmt.Fprintf(w, "  events found:     %d\n", s.EventsFound)
	fmt.Fprintf(w, "  duplicates:       %d\n", s.Duplicates)
	fmt.Fprintf(w, "  events processed: %d\n", s.EventsProcessed)
	fmt.Fprintf(w, "  records inserted: %d\n", s.RecordsInserted)
	fmt.Fprintf(w, "  errors:           %d\n", len(s.Errors))
	for _, e := range s.Errors {
		id := e.EventID
		if id == "" {
			id = "(list)"
		}
		fmt.Fprintf(w, "    %s: %v\n", id, e.Err)
	}
}
