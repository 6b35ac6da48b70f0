package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dreamerjackson/devcat/engine"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newScheduleCmd(configPath *string) *cobra.Command {
	var (
		spec   string
		brands []string
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "run incremental crawls on a cron schedule.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if spec == "" {
				spec = a.cfg.Schedule.Cron
			}
			if len(brands) == 0 {
				brands = a.cfg.Schedule.Brands
			}
			if len(brands) == 0 {
				all = true
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := newCron(a.logger.Named("cron"))
			id, err := c.AddFunc(spec, func() {
				if err := scheduledRun(ctx, a, brands, all); err != nil {
					a.logger.Error("scheduled crawl failed", zap.Error(err))
				}
			})
			if err != nil {
				return fmt.Errorf("schedule %q: %w", spec, err)
			}

			c.Start()
			a.logger.Info("scheduler started",
				zap.String("cron", spec),
				zap.Time("next", c.Entry(id).Next))
			<-ctx.Done()
			// waits for a running job, which stops with ctx
			<-c.Stop().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "", "cron spec or descriptor (default from config)")
	cmd.Flags().StringArrayVar(&brands, "brand", nil, "brand name or URL to crawl (repeatable, default all)")
	return cmd
}

func newCron(logger *zap.Logger) *cron.Cron {
	l := cronLogger{logger.Sugar()}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return cron.New(
		cron.WithParser(parser),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
}

// scheduledRun is one tick. A tick that finds a session running is skipped.
func scheduledRun(ctx context.Context, a *app, wants []string, all bool) error {
	res, err := scanBrands(ctx, a, false)
	if err != nil {
		return err
	}
	brands, err := selectBrands(res.Brands, wants, all)
	if err != nil {
		return err
	}

	s, err := a.crawler.Start(ctx, brands, nil)
	if errors.Is(err, engine.ErrBusy) {
		a.logger.Warn("crawl still running, tick skipped")
		return nil
	}
	if err != nil {
		return err
	}
	logProgress(s, a.logger.With(zap.String("run_id", s.ID)))
	if err := s.Wait(); err != nil {
		return err
	}
	a.logger.Info("scheduled crawl finished", zap.String("message", s.Progress().Message))
	return nil
}

// cronLogger routes cron's logr style calls to zap.
type cronLogger struct {
	*zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Errorw(msg, append(keysAndValues, "error", err)...)
}
