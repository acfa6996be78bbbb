package strategyconfig

import (
	"fmt"

	"github.com/wonny/tradeflow/internal/rebalance"
	"github.com/wonny/tradeflow/internal/rules"
)

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Warning 권장 위반 (경고만)
type Warning struct {
	Code    string
	Message string
}

// Validate checks all required constraints
// 실패 시 error 반환 (프로그램 중단)
func Validate(cfg *Config) error {
	// === Meta ===
	if cfg.Meta.StrategyID == "" {
		return ValidationError{"meta.strategy_id", "required"}
	}

	// === Universe ===
	if len(cfg.Universe.Tickers) == 0 {
		return ValidationError{"universe.tickers", "must not be empty"}
	}

	// === Strategy ===
	if err := validateRule(cfg.Strategy.Entry, "strategy.entry"); err != nil {
		return err
	}
	if err := validateRule(cfg.Strategy.Exit, "strategy.exit"); err != nil {
		return err
	}

	// === Rebalance ===
	r := cfg.Rebalance
	if _, err := rebalance.ParseCadence(r.Cadence); err != nil {
		return ValidationError{"rebalance.cadence", "must be monthly or weekly"}
	}
	if r.MaxPositions < 0 {
		return ValidationError{"rebalance.max_positions", "must be >= 0"}
	}
	if r.MinWeight != nil && *r.MinWeight < 0 {
		return ValidationError{"rebalance.min_weight", "must be >= 0"}
	}
	if r.CashBuffer != nil && (*r.CashBuffer < 0 || *r.CashBuffer >= 1) {
		return ValidationError{"rebalance.cash_buffer", "must be in range [0, 1)"}
	}
	if r.TurnoverCapPct != nil && *r.TurnoverCapPct < 0 {
		return ValidationError{"rebalance.turnover_cap_pct", "must be >= 0"}
	}

	// === Risk ===
	if cfg.Risk.CrashThresholdPct > 0 {
		return ValidationError{"risk.crash_threshold_pct", "must be <= 0"}
	}
	if cfg.Risk.DrawdownThresholdPct > 0 {
		return ValidationError{"risk.drawdown_threshold_pct", "must be <= 0"}
	}
	if mf := cfg.Risk.MarketFilter; mf != nil {
		if mf.Benchmark == "" {
			return ValidationError{"risk.market_filter.benchmark", "required"}
		}
		if err := validateRule(mf.Rule, "risk.market_filter.rule"); err != nil {
			return err
		}
	}

	// === Backtest ===
	b := cfg.Backtest
	if b.InitialCash <= 0 {
		return ValidationError{"backtest.initial_cash", "must be > 0"}
	}
	if b.SlippagePct != nil && *b.SlippagePct < 0 {
		return ValidationError{"backtest.slippage_pct", "must be >= 0"}
	}
	if b.CommissionPerTrade < 0 {
		return ValidationError{"backtest.commission_per_trade", "must be >= 0"}
	}
	if b.TradingDaysPerYear < 0 {
		return ValidationError{"backtest.trading_days_per_year", "must be >= 0"}
	}

	return nil
}

// Warn checks recommended constraints (non-fatal)
func Warn(cfg *Config) []Warning {
	var warnings []Warning
	r := cfg.Rebalance

	// 최소 비중 × 종목 수가 투자 가능 비중 초과 → 일부 종목 탈락
	if r.MinWeight != nil && r.MaxPositions > 0 {
		buffer := 0.0
		if r.CashBuffer != nil {
			buffer = *r.CashBuffer
		}
		if *r.MinWeight*float64(r.MaxPositions) > 1-buffer+1e-9 {
			warnings = append(warnings, Warning{
				Code: "CAPACITY_TRUNCATION",
				Message: fmt.Sprintf("min_weight %.4f x max_positions %d exceeds investable %.4f: positions will be truncated",
					*r.MinWeight, r.MaxPositions, 1-buffer),
			})
		}
	}

	// 과도하게 낮은 회전율 상한
	if r.TurnoverCapPct != nil && *r.TurnoverCapPct < 0.05 {
		warnings = append(warnings, Warning{
			Code:    "LOW_TURNOVER_CAP",
			Message: "turnover_cap_pct < 5%: most rebalances will be blocked",
		})
	}

	// 슬리피지 비관적 가정
	if s := cfg.Backtest.SlippagePct; s != nil && *s > 0.01 {
		warnings = append(warnings, Warning{
			Code:    "HIGH_SLIPPAGE",
			Message: "slippage_pct > 1%: backtest costs may dominate returns",
		})
	}

	return warnings
}

// === Helper Functions ===

// validateRule는 표현식을 실제로 파싱해 문법 오류를 로딩 시점에 잡음
func validateRule(expr, field string) error {
	if _, err := rules.New(expr); err != nil {
		return ValidationError{field, err.Error()}
	}
	return nil
}
