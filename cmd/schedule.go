package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/config"
	"github.com/sells-group/dealflow/internal/lifecycle"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run every stage on its configured interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, config.ModeSchedule)
		if err != nil {
			return err
		}
		defer env.Close()

		s, err := newScheduler(ctx, env.Controller, cfg.Schedule, cfg.Worker.BatchSize)
		if err != nil {
			return err
		}
		if s.Len() == 0 {
			return eris.New("schedule: every stage interval is zero")
		}

		zap.L().Info("scheduler started", zap.Int("jobs", s.Len()))
		s.StartAsync()
		<-ctx.Done()
		s.Stop()
		zap.L().Info("scheduler stopped")
		return nil
	},
}

// newScheduler registers one singleton job per stage with a non-zero
// interval. A run still in progress when its next tick fires is not doubled.
func newScheduler(ctx context.Context, ctrl *lifecycle.Controller, sc config.ScheduleConfig, limit int) (*gocron.Scheduler, error) {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	s.SingletonModeAll()

	for _, job := range []struct {
		mode  string
		every time.Duration
	}{
		{config.ModeIngestion, sc.IngestEvery},
		{config.ModeProcessing, sc.ProcessEvery},
		{config.ModeFeatures, sc.FeaturesEvery},
	} {
		if job.every <= 0 {
			continue
		}
		mode := job.mode
		_, err := s.Every(job.every).Tag(mode).Do(func() {
			sum, err := runStage(ctx, ctrl, mode, limit)
			if err != nil {
				zap.L().Error("scheduled stage failed", zap.String("stage", mode), zap.Error(err))
				return
			}
			zap.L().Info("scheduled stage complete", zap.String("stage", mode), zap.Stringer("summary", sum))
		})
		if err != nil {
			return nil, eris.Wrapf(err, "schedule %s", mode)
		}
	}
	return s, nil
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
