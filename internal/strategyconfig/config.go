package strategyconfig

import (
	"time"

	"github.com/wonny/tradeflow/internal/backtest"
	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/internal/rebalance"
	"github.com/wonny/tradeflow/internal/risk"
	"github.com/wonny/tradeflow/internal/strategy"
)

// Config는 전략 전체 설정 (YAML 1:1)
type Config struct {
	Meta       Meta        `yaml:"meta" json:"meta"`
	BaseCcy    string      `yaml:"base_ccy" json:"base_ccy"`
	Calendar   string      `yaml:"calendar" json:"calendar"`
	Data       Data        `yaml:"data" json:"data"`
	Universe   Universe    `yaml:"universe" json:"universe"`
	Strategy   Strategy    `yaml:"strategy" json:"strategy"`
	Risk       Risk        `yaml:"risk" json:"risk"`
	Rebalance  Rebalance   `yaml:"rebalance" json:"rebalance"`
	Preprocess *Preprocess `yaml:"preprocess,omitempty" json:"preprocess,omitempty"`
	Backtest   Backtest    `yaml:"backtest" json:"backtest"`
	Notify     Notify      `yaml:"notify" json:"notify"`
	Paths      Paths       `yaml:"paths" json:"paths"`
}

// Meta 메타 정보
type Meta struct {
	StrategyID string `yaml:"strategy_id" json:"strategy_id"`
	Version    string `yaml:"version" json:"version"`
}

// Data 원천 데이터 설정
type Data struct {
	Provider     string `yaml:"provider" json:"provider"`
	Adjust       string `yaml:"adjust,omitempty" json:"adjust,omitempty"`
	LookbackDays int    `yaml:"lookback_days,omitempty" json:"lookback_days,omitempty"`
}

// Universe 투자 가능 종목
type Universe struct {
	Tickers []string `yaml:"tickers" json:"tickers"`
}

// Strategy 진입/청산/랭크 규칙
type Strategy struct {
	Type  string `yaml:"type" json:"type"`
	Entry string `yaml:"entry" json:"entry"`
	Exit  string `yaml:"exit" json:"exit"`
	Rank  string `yaml:"rank,omitempty" json:"rank,omitempty"`
}

// Risk 알림 임계값 (음수 비율, 예: -0.08)
type Risk struct {
	CrashThresholdPct    float64       `yaml:"crash_threshold_pct" json:"crash_threshold_pct"`
	DrawdownThresholdPct float64       `yaml:"drawdown_threshold_pct" json:"drawdown_threshold_pct"`
	MarketFilter         *MarketFilter `yaml:"market_filter,omitempty" json:"market_filter,omitempty"`
}

type MarketFilter struct {
	Benchmark string `yaml:"benchmark" json:"benchmark"`
	Rule      string `yaml:"rule" json:"rule"`
}

// Rebalance 리밸런싱 주기와 제약
type Rebalance struct {
	Cadence        string   `yaml:"cadence" json:"cadence"`
	MaxPositions   int      `yaml:"max_positions" json:"max_positions"`
	EqualWeight    *bool    `yaml:"equal_weight,omitempty" json:"equal_weight,omitempty"`
	MinWeight      *float64 `yaml:"min_weight,omitempty" json:"min_weight,omitempty"`
	CashBuffer     *float64 `yaml:"cash_buffer,omitempty" json:"cash_buffer,omitempty"`
	TurnoverCapPct *float64 `yaml:"turnover_cap_pct,omitempty" json:"turnover_cap_pct,omitempty"`
}

// Preprocess 큐레이션 옵션
type Preprocess struct {
	ForwardFillLimit  int `yaml:"forward_fill_limit" json:"forward_fill_limit"`
	RollingPeakWindow int `yaml:"rolling_peak_window" json:"rolling_peak_window"`
}

// Backtest 시뮬레이션 비용/가정
type Backtest struct {
	InitialCash        float64  `yaml:"initial_cash" json:"initial_cash"`
	SlippagePct        *float64 `yaml:"slippage_pct,omitempty" json:"slippage_pct,omitempty"`
	CommissionPerTrade float64  `yaml:"commission_per_trade" json:"commission_per_trade"`
	TradingDaysPerYear int      `yaml:"trading_days_per_year" json:"trading_days_per_year"`
	AnnualRiskFreeRate float64  `yaml:"annual_risk_free_rate" json:"annual_risk_free_rate"`
}

// Notify 알림 수신처; 발송은 internal/notify
type Notify struct {
	Email        string `yaml:"email,omitempty" json:"email,omitempty"`
	SlackWebhook string `yaml:"slack_webhook,omitempty" json:"slack_webhook,omitempty"`
}

// Paths 디렉터리; Load 시 설정 파일 기준 절대경로로 변환
type Paths struct {
	DataRaw     string `yaml:"data_raw" json:"data_raw"`
	DataCurated string `yaml:"data_curated" json:"data_curated"`
	Reports     string `yaml:"reports" json:"reports"`
}

// Directories returns the managed directories
func (p Paths) Directories() []string {
	return []string{p.DataRaw, p.DataCurated, p.Reports}
}

// DecisionSnapshot 의사결정 스냅샷 (재현성용)
type DecisionSnapshot struct {
	ConfigHash     string    `json:"config_hash"`
	ConfigYAML     string    `json:"config_yaml"`
	StrategyID     string    `json:"strategy_id"`
	GitCommit      string    `json:"git_commit"`
	DataSnapshotID string    `json:"data_snapshot_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// StrategyEngine maps the strategy section to the engine config
func (c *Config) StrategyEngine() strategy.Config {
	return strategy.Config{
		Entry:    c.Strategy.Entry,
		Exit:     c.Strategy.Exit,
		Rank:     c.Strategy.Rank,
		Universe: c.Universe.Tickers,
	}
}

// RiskEngine maps the risk section to the engine config
func (c *Config) RiskEngine() risk.Config {
	cfg := risk.Config{
		CrashThreshold:    c.Risk.CrashThresholdPct,
		DrawdownThreshold: c.Risk.DrawdownThresholdPct,
	}
	if mf := c.Risk.MarketFilter; mf != nil {
		cfg.MarketFilter = &risk.MarketFilter{Benchmark: mf.Benchmark, Rule: mf.Rule}
	}
	return cfg
}

// RebalanceEngine maps the rebalance section to the engine config
func (c *Config) RebalanceEngine() rebalance.Config {
	r := c.Rebalance
	cfg := rebalance.Config{
		Cadence:      r.Cadence,
		MaxPositions: r.MaxPositions,
		EqualWeight:  r.EqualWeight,
		TurnoverCap:  r.TurnoverCapPct,
	}
	if r.MinWeight != nil {
		cfg.MinWeight = *r.MinWeight
	}
	if r.CashBuffer != nil {
		cfg.CashBuffer = *r.CashBuffer
	}
	return cfg
}

// BacktestEngine maps the backtest section to the engine config
func (c *Config) BacktestEngine() backtest.Config {
	slippage := DefaultSlippagePct
	if c.Backtest.SlippagePct != nil {
		slippage = *c.Backtest.SlippagePct
	}
	return backtest.Config{
		InitialCash:        c.Backtest.InitialCash,
		SlippagePct:        slippage,
		CommissionPerTrade: c.Backtest.CommissionPerTrade,
		TradingDaysPerYear: c.Backtest.TradingDaysPerYear,
		AnnualRiskFreeRate: c.Backtest.AnnualRiskFreeRate,
		BaseCcy:            c.BaseCcy,
	}
}

// CurateOptions returns preprocess settings over the production defaults
func (c *Config) CurateOptions() marketdata.CurateOptions {
	opts := marketdata.DefaultCurateOptions()
	if c.Preprocess == nil {
		return opts
	}
	if c.Preprocess.ForwardFillLimit > 0 {
		opts.ForwardFillLimit = c.Preprocess.ForwardFillLimit
	}
	if c.Preprocess.RollingPeakWindow > 0 {
		opts.RollingPeakWindow = c.Preprocess.RollingPeakWindow
	}
	return opts
}
