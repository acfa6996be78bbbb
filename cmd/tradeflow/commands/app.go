package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/internal/notify"
	"github.com/wonny/tradeflow/internal/pipeline"
	"github.com/wonny/tradeflow/internal/rebalance"
	"github.com/wonny/tradeflow/internal/report"
	"github.com/wonny/tradeflow/internal/risk"
	"github.com/wonny/tradeflow/internal/store"
	"github.com/wonny/tradeflow/internal/strategy"
	"github.com/wonny/tradeflow/internal/strategyconfig"
	"github.com/wonny/tradeflow/pkg/config"
	"github.com/wonny/tradeflow/pkg/database"
	"github.com/wonny/tradeflow/pkg/httputil"
	"github.com/wonny/tradeflow/pkg/logger"
	"github.com/wonny/tradeflow/pkg/redis"
)

const (
	sourceAuto     = "auto"
	sourceCSV      = "csv"
	sourcePostgres = "postgres"
)

// app holds the wired dependencies shared by the commands
// ⭐ SSOT: 커맨드 의존성 조립은 여기서만
type app struct {
	cfg          *config.Config
	log          *logger.Logger
	strategy     *strategyconfig.Config
	strategyYAML []byte
	strategyFile string

	db     *database.DB
	redis  *redis.Client
	repo   *store.Repository
	writer *report.Writer
	source marketdata.Source

	// notifyChannels 비어 있으면 all
	notifyChannels []string
}

// newApp loads both configurations and opens the optional backends
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	log := logger.New(cfg)

	path := strategyPath
	if path == "" {
		path = cfg.StrategyConfigPath
	}
	sc, raw, err := strategyconfig.Load(path)
	if err != nil {
		return nil, fmt.Errorf("strategy config %s: %w", path, err)
	}
	for _, w := range strategyconfig.Warn(sc) {
		log.WithField("code", w.Code).Warn(w.Message)
	}

	a := &app{
		cfg:          cfg,
		log:          log,
		strategy:     sc,
		strategyYAML: raw,
		strategyFile: path,
		redis:        redis.Disabled(),
	}

	if cfg.Database.Enabled() {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.db = db
		a.repo = store.NewRepository(db.Pool)
		if err := a.repo.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, err
		}
		log.Debug("Connected to database")
	}

	if cfg.Redis.Enabled {
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			// 캐시는 선택 사항이므로 경고 후 계속
			log.WithError(err).Warn("Redis unavailable, curated cache disabled")
		} else {
			a.redis = client
		}
	}

	if a.source, err = a.buildSource(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if a.writer, err = report.NewWriter(a.reportsDir(), log); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the backends
func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func (a *app) curatedDir() string {
	if a.strategy.Paths.DataCurated != "" {
		return a.strategy.Paths.DataCurated
	}
	return a.cfg.CuratedDir
}

func (a *app) reportsDir() string {
	if a.strategy.Paths.Reports != "" {
		return a.strategy.Paths.Reports
	}
	return a.cfg.ReportsDir
}

func (a *app) buildSource(ctx context.Context) (marketdata.Source, error) {
	kind := sourceKind
	if kind == sourceAuto {
		kind = sourceCSV
		if a.db != nil {
			kind = sourcePostgres
		}
	}

	var source marketdata.Source
	switch kind {
	case sourceCSV:
		source = marketdata.NewCSVSource(a.curatedDir())
	case sourcePostgres:
		if a.db == nil {
			return nil, fmt.Errorf("source %q requires DATABASE_URL", kind)
		}
		pg := marketdata.NewPostgresSource(a.db.Pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		source = pg
	default:
		return nil, fmt.Errorf("unknown source %q (auto|csv|postgres)", kind)
	}

	a.log.WithField("source", kind).Debug("Curated data source selected")
	if a.redis.Enabled() {
		cache := redis.NewCache(a.redis, "tradeflow:"+a.strategy.Meta.StrategyID)
		return marketdata.NewCachedSource(source, cache, a.cfg.Redis.TTL, a.log), nil
	}
	return source, nil
}

// sink fans results out to the report directory and, when configured, Postgres
func (a *app) sink() store.MultiSink {
	sinks := []store.Sink{a.writer}
	if a.repo != nil {
		sinks = append(sinks, a.repo)
	}
	return store.NewMultiSink(sinks...)
}

func (a *app) strategyEngine() (*strategy.Engine, error) {
	return strategy.New(a.strategy.StrategyEngine(), a.source, a.log)
}

func (a *app) riskEngine() (*risk.Engine, error) {
	return risk.New(a.strategy.RiskEngine(), a.source, a.log)
}

func (a *app) rebalanceEngine() (*rebalance.Engine, error) {
	return rebalance.New(a.strategy.RebalanceEngine(), rebalance.SourcePrices{Source: a.source}, a.log)
}

// engines builds the three core engines
func (a *app) engines() (*strategy.Engine, *risk.Engine, *rebalance.Engine, error) {
	strat, err := a.strategyEngine()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("strategy engine: %w", err)
	}
	riskEngine, err := a.riskEngine()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("risk engine: %w", err)
	}
	rebal, err := a.rebalanceEngine()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("rebalance engine: %w", err)
	}
	return strat, riskEngine, rebal, nil
}

// loadHoldings reads the holdings file; no path means an empty book
func (a *app) loadHoldings(path string) (contracts.HoldingsSnapshot, error) {
	if path == "" {
		return contracts.HoldingsSnapshot{BaseCcy: a.strategy.BaseCcy}, nil
	}
	h, err := contracts.LoadHoldings(path)
	if err != nil {
		return contracts.HoldingsSnapshot{}, err
	}
	if h.BaseCcy != "" && a.strategy.BaseCcy != "" && h.BaseCcy != a.strategy.BaseCcy {
		a.log.WithFields(map[string]interface{}{
			"holdings": h.BaseCcy,
			"strategy": a.strategy.BaseCcy,
		}).Warn("Holdings base currency differs from strategy base currency")
	}
	return h, nil
}

// newPipeline wires the engines and sinks; observer may be nil
func (a *app) newPipeline(observer pipeline.Observer) (*pipeline.Pipeline, error) {
	strat, riskEngine, rebal, err := a.engines()
	if err != nil {
		return nil, err
	}
	p := pipeline.New(strat, riskEngine, rebal, a.sink().Sinks(), observer, a.log)
	return p.WithReporting(a.reporter(), a.notifier()), nil
}

// reporter builds the daily report from the curated source into the reports directory
func (a *app) reporter() *report.DailyBuilder {
	return report.NewDailyBuilder(a.source, a.writer, a.strategy.BaseCcy, a.log)
}

// notifier sends the report to the strategy's notify targets
func (a *app) notifier() *notify.Service {
	targets := notify.Targets{
		Email:        a.strategy.Notify.Email,
		SlackWebhook: a.strategy.Notify.SlackWebhook,
	}
	email := notify.NewEmailChannel(a.cfg.SMTP, nil)
	slack := notify.NewSlackChannel(httputil.New(a.cfg.HTTPClient, a.log))
	return notify.NewService(targets, a.notifyChannels, email, slack, a.log)
}

// recordSummary writes a pipeline summary next to the reports and, when configured, to Postgres
func (a *app) recordSummary(ctx context.Context, summary *pipeline.Summary) error {
	var errs []error
	// dry run 은 DB 이력만 남김
	if !summary.DryRun {
		if _, err := a.writer.SaveSummary(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	if a.repo != nil {
		if err := a.repo.SaveSummary(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
