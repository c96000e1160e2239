package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantrove/mmbot/internal/backtest"
	"github.com/quantrove/mmbot/internal/book"
	"github.com/quantrove/mmbot/internal/domain"
	"github.com/quantrove/mmbot/internal/feed"
	"github.com/quantrove/mmbot/internal/risk"
	"github.com/quantrove/mmbot/internal/sim"
	"github.com/quantrove/mmbot/internal/strategy"
)

// LiveMode runs the market data feed with the paper-trading engine: books
// are synchronized from the stream, quotes are derived and handed to the
// fill simulator, and fills update the paper position. Snapshots are
// recorded to Postgres and book stats published to Redis.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode",
		slog.Any("symbols", a.cfg.Bybit.Symbols),
	)

	registry := book.NewRegistry(a.cfg.Bybit.Depth, a.logger)
	simulator, err := a.newSimulator(registry)
	if err != nil {
		return fmt.Errorf("live mode: %w", err)
	}
	engine := strategy.NewEngine(
		strategy.EngineConfig{
			RequoteInterval: a.cfg.Strategy.RequoteInterval.Duration,
			MaxInventory:    a.cfg.Strategy.MaxInventory,
		},
		registry,
		simulator,
		strategy.NewQuoter(a.quoterConfig(), a.logger),
		risk.NewGuards(a.guardsConfig(), a.logger),
		a.logger,
	)

	return a.runFeed(ctx, deps, registry, engine)
}

// RecordMode runs the feed without the paper engine: book synchronization,
// snapshot recording, and stats publication only.
func (a *App) RecordMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting record mode",
		slog.Any("symbols", a.cfg.Bybit.Symbols),
	)

	registry := book.NewRegistry(a.cfg.Bybit.Depth, a.logger)
	return a.runFeed(ctx, deps, registry, nil)
}

// runFeed starts the feeder, the stream client, and the periodic archive
// sweep when enabled, then blocks until the context is cancelled.
func (a *App) runFeed(ctx context.Context, deps *Dependencies, registry *book.Registry, ticks feed.TickHandler) error {
	g, ctx := errgroup.WithContext(ctx)

	var recorder domain.BookSnapshotStore
	if deps.BookStore != nil {
		recorder = deps.BookStore
	}
	feeder := feed.NewFeeder(registry, deps.BookCache, deps.SignalBus, recorder, a.logger)
	if ticks != nil {
		feeder.SetTickHandler(ticks)
	}

	for _, symbol := range a.cfg.Bybit.Symbols {
		registry.AddSymbol(symbol)
	}

	wsFeed := feed.NewBybitWSFeed(a.cfg.Bybit.WsURL, a.cfg.Bybit.Depth, a.cfg.Bybit.Symbols, feeder, a.logger)

	g.Go(func() error {
		return feeder.Run(ctx)
	})
	g.Go(func() error {
		defer wsFeed.Close()
		return wsFeed.Run(ctx)
	})

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps.Archiver)
		})
	}

	return g.Wait()
}

// BacktestMode replays a snapshot stream through the backtest runner and
// logs the resulting report.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting backtest mode",
		slog.String("source", a.cfg.Backtest.Source),
		slog.String("symbol", a.cfg.Backtest.Symbol),
	)

	registry := book.NewRegistry(a.cfg.Bybit.Depth, a.logger)
	simulator, err := a.newSimulator(registry)
	if err != nil {
		return fmt.Errorf("backtest mode: %w", err)
	}

	runnerCfg := backtest.RunnerConfig{
		MakerRebateBps: a.cfg.Backtest.MakerRebateBps,
		TakerFeeBps:    a.cfg.Backtest.TakerFeeBps,
		MaxInventory:   a.cfg.Backtest.MaxInventory,
	}
	var fills domain.FillStore
	if a.cfg.Backtest.PersistFills && deps.FillStore != nil {
		fills = deps.FillStore
		runnerCfg.PersistBatch = a.cfg.Backtest.PersistBatch
	}

	runner := backtest.NewRunner(
		runnerCfg,
		registry,
		simulator,
		strategy.NewQuoter(a.quoterConfig(), a.logger),
		risk.NewGuards(a.guardsConfig(), a.logger),
		fills,
		a.logger,
	)

	start, end := a.backtestWindow()

	var source backtest.Source
	if a.cfg.Backtest.Source == "store" {
		source = backtest.NewStoreSource(ctx, deps.BookStore, a.cfg.Backtest.Symbol, start, end)
	} else {
		source = backtest.NewSynthetic(backtest.SyntheticConfig{
			Symbol:       a.cfg.Backtest.Symbol,
			BasePrice:    a.cfg.Backtest.BasePrice,
			Volatility:   a.cfg.Backtest.Volatility,
			SpreadMinBps: a.cfg.Backtest.SpreadMinBps,
			SpreadMaxBps: a.cfg.Backtest.SpreadMaxBps,
			Levels:       a.cfg.Backtest.Levels,
			Interval:     a.cfg.Backtest.Interval.Duration,
			Seed:         a.cfg.Backtest.Seed,
		}, start, end)
	}

	report, err := runner.Run(ctx, a.cfg.Backtest.Symbol, source)
	if err != nil {
		return fmt.Errorf("backtest mode: %w", err)
	}

	a.logger.InfoContext(ctx, "backtest report",
		slog.String("run_id", report.RunID),
		slog.String("symbol", report.Symbol),
		slog.Int64("snapshots", report.Snapshots),
		slog.Int64("stale", report.Stale),
		slog.Int64("sequence_gaps", report.SequenceGaps),
		slog.Int("fills", report.Fills),
		slog.Float64("maker_ratio", report.MakerRatio()),
		slog.String("volume", report.Volume.String()),
		slog.String("gross_pnl", report.GrossPnL.String()),
		slog.String("fee_pnl", report.FeePnL.String()),
		slog.String("net_pnl", report.NetPnL.String()),
		slog.String("end_inventory", report.EndInventory.String()),
		slog.String("max_drawdown", report.MaxDrawdown.String()),
	)
	return nil
}

// ArchiveMode runs one snapshot archive sweep per configured symbol and
// exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Time("cutoff", cutoff),
	)

	for _, symbol := range a.cfg.Bybit.Symbols {
		n, err := deps.Archiver.ArchiveBooks(ctx, symbol, cutoff)
		if err != nil {
			return fmt.Errorf("archive mode: %s: %w", symbol, err)
		}
		a.logger.InfoContext(ctx, "archive sweep complete",
			slog.String("symbol", symbol),
			slog.Int64("archived", n),
		)
	}
	return nil
}

// archiveLoop runs periodic archive sweeps until the context is cancelled.
func (a *App) archiveLoop(ctx context.Context, archiver domain.Archiver) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
			for _, symbol := range a.cfg.Bybit.Symbols {
				n, err := archiver.ArchiveBooks(ctx, symbol, cutoff)
				if err != nil {
					a.logger.ErrorContext(ctx, "archive sweep failed",
						slog.String("symbol", symbol),
						slog.String("error", err.Error()),
					)
					continue
				}
				if n > 0 {
					a.logger.InfoContext(ctx, "archive sweep complete",
						slog.String("symbol", symbol),
						slog.Int64("archived", n),
					)
				}
			}
		}
	}
}

// newSimulator builds the fill simulator from the calibration config. A
// non-zero seed pins the rng stream for reproducible runs; zero seeds from
// the wall clock.
func (a *App) newSimulator(registry *book.Registry) (*sim.Simulator, error) {
	seed := a.cfg.Calibration.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return sim.New(registry, a.calibration(), a.logger,
		sim.WithRand(rand.New(rand.NewSource(seed))),
	)
}

func (a *App) calibration() sim.Calibration {
	return sim.Calibration{
		LatencyMeanMs:    a.cfg.Calibration.LatencyMeanMs,
		LatencyStdMs:     a.cfg.Calibration.LatencyStdMs,
		AmendLatencyMs:   a.cfg.Calibration.AmendLatencyMs,
		CancelLatencyMs:  a.cfg.Calibration.CancelLatencyMs,
		ToxicSweepProb:   a.cfg.Calibration.ToxicSweepProb,
		ExtraSlippageBps: a.cfg.Calibration.ExtraSlippageBps,
	}
}

func (a *App) quoterConfig() strategy.QuoterConfig {
	return strategy.QuoterConfig{
		BaseSpreadBps:  a.cfg.Strategy.BaseSpreadBps,
		MinSpreadBps:   a.cfg.Strategy.MinSpreadBps,
		KVola:          a.cfg.Strategy.KVola,
		KImb:           a.cfg.Strategy.KImb,
		TImb:           a.cfg.Strategy.TImb,
		SkewK:          a.cfg.Strategy.SkewK,
		MaxSkewBps:     a.cfg.Strategy.MaxSkewBps,
		QuoteSize:      a.cfg.Strategy.QuoteSize,
		MaxInventory:   a.cfg.Strategy.MaxInventory,
		ImbalanceDepth: a.cfg.Strategy.ImbalanceDepth,
	}
}

func (a *App) guardsConfig() risk.GuardsConfig {
	return risk.GuardsConfig{
		VolSoftBps:       a.cfg.Risk.VolSoftBps,
		VolHardBps:       a.cfg.Risk.VolHardBps,
		VolEmaSec:        a.cfg.Risk.VolEmaSec,
		InventorySoftPct: a.cfg.Risk.InventorySoftPct,
		InventoryHardPct: a.cfg.Risk.InventoryHardPct,
		TakerFillsSoft:   a.cfg.Risk.TakerFillsSoft,
		TakerFillsHard:   a.cfg.Risk.TakerFillsHard,
		TakerWindow:      a.cfg.Risk.TakerWindow.Duration,
		HardCooldown:     a.cfg.Risk.HardCooldown.Duration,
	}
}

// backtestWindow returns the replay time range, defaulting to the last
// hour when unset.
func (a *App) backtestWindow() (time.Time, time.Time) {
	start, end := a.cfg.Backtest.Start, a.cfg.Backtest.End
	if start.IsZero() {
		start = time.Now().UTC().Add(-time.Hour)
	}
	if end.IsZero() {
		end = start.Add(time.Hour)
	}
	return start, end
}
