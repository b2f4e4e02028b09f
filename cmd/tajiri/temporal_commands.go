package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tajiricircle/tajiri/service/logging"
	"github.com/tajiricircle/tajiri/service/pipeline"
	"github.com/tajiricircle/tajiri/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

// newScheduler connects to Temporal. Tests replace it.
var newScheduler = func(c *cli.Context) (temporal.Scheduler, func(), error) {
	tc, err := getTemporalClient(c)
	if err != nil {
		return nil, nil, err
	}
	return tc, tc.Close, nil
}

func scheduleTrustCommand() *cli.Command {
	return &cli.Command{
		Name:      "schedule-trust",
		Usage:     "Create or update the periodic trust score refresh for a phone",
		ArgsUsage: "PHONE",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Refresh interval",
				EnvVars: []string{"TRUST_REFRESH_INTERVAL"},
				Value:   24 * time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			phone, err := phoneArg(c)
			if err != nil {
				return err
			}
			interval := c.Duration("interval")
			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %v", interval)
			}

			scheduler, closer, err := newScheduler(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := scheduler.UpsertTrustSchedule(c.Context, phone, interval); err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "✓ Scheduled trust refresh for %s every %v\n", phone, interval)
			fmt.Fprintf(c.App.Writer, "  Schedule ID: %s\n", temporal.TrustScheduleID(phone))
			return nil
		},
	}
}

func unscheduleTrustCommand() *cli.Command {
	return &cli.Command{
		Name:      "unschedule-trust",
		Usage:     "Delete the periodic trust score refresh for a phone",
		ArgsUsage: "PHONE",
		Action: func(c *cli.Context) error {
			phone, err := phoneArg(c)
			if err != nil {
				return err
			}

			scheduler, closer, err := newScheduler(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := scheduler.DeleteTrustSchedule(c.Context, phone); err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "✓ Deleted trust refresh schedule %s\n", temporal.TrustScheduleID(phone))
			return nil
		},
	}
}

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-schedules",
		Usage:   "List trust refresh schedules",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			iter, err := tc.SDKClient().ScheduleClient().List(c.Context, client.ScheduleListOptions{
				PageSize: 100,
			})
			if err != nil {
				return fmt.Errorf("failed to list schedules: %w", err)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCHEDULE ID\tPAUSED\tNEXT RUN")
			count := 0
			for iter.HasNext() {
				schedule, err := iter.Next()
				if err != nil {
					return fmt.Errorf("failed to iterate schedules: %w", err)
				}
				if !strings.HasPrefix(schedule.ID, temporal.TrustSchedulePrefix) {
					continue
				}
				next := "-"
				if len(schedule.NextActionTimes) > 0 {
					next = schedule.NextActionTimes[0].Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%v\t%s\n", schedule.ID, schedule.Paused, next)
				count++
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d schedules\n", count)
			return nil
		},
	}
}

// phoneArg normalizes the single PHONE argument.
func phoneArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("requires exactly one argument: phone number")
	}
	return pipeline.NormalizePhone(c.Args().First())
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	tc, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		logging.New("error", "json"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	return tc, nil
}
