package main

import (
	"context"
	"flag"
	"time"

	"github.com/trollofun/uitdeitp/internal/factory"
	"github.com/trollofun/uitdeitp/internal/schedule"
	"github.com/trollofun/uitdeitp/internal/util"
)

// reminderd runs one daily reminder batch and exits. It is meant to be
// invoked by cron or a systemd timer shortly after midnight UTC.
func main() {
	dryRun := flag.Bool("dry-run", false, "count due reminders without sending or advancing schedules")
	flag.Parse()

	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	if *dryRun {
		date := schedule.FormatDate(time.Now().UTC())
		ids, err := f.ReminderRepository().IDsDueOn(date)
		if err != nil {
			util.Fatal("Failed to load due reminders", util.ErrorField(err))
		}
		util.Info("Dry run complete",
			util.String("date", date),
			util.Int("due", len(ids)),
		)
		return
	}

	batchService := f.ServiceFactory().BatchService()

	result, err := batchService.Run(context.Background())
	if err != nil {
		util.Fatal("Batch run failed", util.ErrorField(err))
	}

	util.Info("Batch run complete",
		util.String("date", result.Date),
		util.Int("due", result.Due),
		util.Int("sent", result.Sent),
		util.Int("failed", result.Failed),
		util.Int("skipped", result.Skipped),
		util.Duration("elapsed", result.Elapsed),
	)
}
