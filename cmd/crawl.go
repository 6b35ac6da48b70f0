package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dreamerjackson/devcat/engine"
	"github.com/dreamerjackson/devcat/spider"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type crawlFlags struct {
	brands         []string
	all            bool
	deleteExisting []string
	refreshBrands  bool
}

func newCrawlCmd(configPath *string) *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "run one incremental crawl.",
		Long: "run one incremental crawl of the selected brands. " +
			"SIGINT stops the run, SIGUSR1 toggles pause.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runCrawl(ctx, cmd, a, f)
		},
	}
	cmd.Flags().StringArrayVar(&f.brands, "brand", nil, "brand name or URL to crawl (repeatable)")
	cmd.Flags().BoolVar(&f.all, "all", false, "crawl every brand")
	cmd.Flags().StringArrayVar(&f.deleteExisting, "delete-existing", nil,
		"brand whose stored devices are purged before crawling (repeatable)")
	cmd.Flags().BoolVar(&f.refreshBrands, "refresh-brands", false, "ignore the brand cache")
	return cmd
}

func runCrawl(ctx context.Context, cmd *cobra.Command, a *app, f crawlFlags) error {
	res, err := scanBrands(ctx, a, f.refreshBrands)
	if err != nil {
		return err
	}
	brands, err := selectBrands(res.Brands, f.brands, f.all)
	if err != nil {
		return err
	}

	s, err := a.crawler.Start(ctx, brands, f.deleteExisting)
	if err != nil {
		return err
	}
	a.logger.Info("crawl started", zap.String("run_id", s.ID), zap.Int("brands", len(brands)))

	go togglePauseOnSignal(s, a.logger)
	logProgress(s, a.logger)

	err = s.Wait()
	st := s.Progress()
	renderCompleted(cmd.OutOrStdout(), st)
	fmt.Fprintln(cmd.OutOrStdout(), st.Message)
	return err
}

// logProgress logs a line whenever the brand or the processed counters
// change. It returns once the session closes its feed.
func logProgress(s *engine.Session, logger *zap.Logger) {
	var last engine.Status
	for st := range s.Updates() {
		if st.CurrentBrand == last.CurrentBrand &&
			st.DevicesProcessed == last.DevicesProcessed &&
			st.State == last.State {
			continue
		}
		last = st
		logger.Info("progress",
			zap.String("state", st.State.String()),
			zap.String("brand", st.CurrentBrand),
			zap.Float64("progress", st.Progress),
			zap.Int("devices", st.DevicesProcessed),
			zap.Int("total_devices", st.TotalDevices),
			zap.Int("new", st.NewDevices),
			zap.Int("updated", st.UpdatedDevices),
			zap.Int("failed", st.FailedDevices))
	}
}

func togglePauseOnSignal(s *engine.Session, logger *zap.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	defer signal.Stop(sig)

	for {
		select {
		case <-s.Done():
			return
		case <-sig:
			paused := !s.Progress().Paused
			s.Pause(paused)
			logger.Info("pause toggled", zap.Bool("paused", paused))
		}
	}
}

// selectBrands picks brands by name or URL, in the order asked for.
func selectBrands(all []spider.Brand, wants []string, every bool) ([]spider.Brand, error) {
	if every {
		return all, nil
	}
	if len(wants) == 0 {
		return nil, fmt.Errorf("no brands selected, use --brand or --all")
	}

	var (
		picked  []spider.Brand
		seen    = make(map[string]bool)
		unknown []string
	)
	for _, w := range wants {
		found := false
		for _, b := range all {
			if b.Match(w) {
				found = true
				if !seen[b.URL] {
					seen[b.URL] = true
					picked = append(picked, b)
				}
				break
			}
		}
		if !found {
			unknown = append(unknown, w)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown brands: %s", strings.Join(unknown, ", "))
	}
	return picked, nil
}
