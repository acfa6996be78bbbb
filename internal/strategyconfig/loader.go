package strategyconfig

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backtest defaults
const (
	DefaultInitialCash        = 100_000.0
	DefaultSlippagePct        = 0.0005
	DefaultTradingDaysPerYear = 252
)

// Load reads YAML file and returns Config with raw bytes
// SSOT 핵심: KnownFields(true)로 오타/미사용 필드 즉시 실패
// 상대 경로(paths.*)는 설정 파일 디렉터리 기준으로 변환
func Load(path string) (*Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read strategy config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, data, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, data, err
	}
	cfg.Paths = resolvePaths(cfg.Paths, filepath.Dir(abs))

	if err := Validate(cfg); err != nil {
		return nil, data, err
	}

	return cfg, data, nil
}

// Parse decodes YAML and applies defaults without validating
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // 알 수 없는 필드 발견 시 에러 반환
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ValidationError{"", "configuration file is empty"}
		}
		return nil, fmt.Errorf("decode strategy config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// EnsureDirectories creates every configured directory
func EnsureDirectories(cfg *Config) error {
	for _, dir := range cfg.Paths.Directories() {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Hash generates SHA256 hash from Config (canonical JSON)
// 주의: map 대신 struct 사용으로 해시 재현성 보장
func Hash(cfg *Config) (string, error) {
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}

// NewDecisionSnapshot creates a snapshot for audit
func NewDecisionSnapshot(cfg *Config, yamlData []byte, gitCommit, dataSnapshotID string) (*DecisionSnapshot, error) {
	hash, err := Hash(cfg)
	if err != nil {
		return nil, err
	}

	return &DecisionSnapshot{
		ConfigHash:     hash,
		ConfigYAML:     string(yamlData),
		StrategyID:     cfg.Meta.StrategyID,
		GitCommit:      gitCommit,
		DataSnapshotID: dataSnapshotID,
		CreatedAt:      time.Now(),
	}, nil
}

func applyDefaults(cfg *Config) {
	cfg.BaseCcy = strings.ToUpper(strings.TrimSpace(cfg.BaseCcy))
	if cfg.BaseCcy == "" {
		cfg.BaseCcy = "USD"
	}

	tickers := make([]string, 0, len(cfg.Universe.Tickers))
	for _, t := range cfg.Universe.Tickers {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			tickers = append(tickers, t)
		}
	}
	cfg.Universe.Tickers = tickers

	cfg.Rebalance.Cadence = strings.ToLower(strings.TrimSpace(cfg.Rebalance.Cadence))
	if cfg.Rebalance.EqualWeight == nil {
		equal := true
		cfg.Rebalance.EqualWeight = &equal
	}

	if cfg.Backtest.InitialCash == 0 {
		cfg.Backtest.InitialCash = DefaultInitialCash
	}
	if cfg.Backtest.SlippagePct == nil {
		slippage := DefaultSlippagePct
		cfg.Backtest.SlippagePct = &slippage
	}
	if cfg.Backtest.TradingDaysPerYear == 0 {
		cfg.Backtest.TradingDaysPerYear = DefaultTradingDaysPerYear
	}
}

func resolvePaths(p Paths, baseDir string) Paths {
	resolve := func(raw string) string {
		if raw == "" {
			return ""
		}
		if strings.HasPrefix(raw, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				raw = filepath.Join(home, raw[2:])
			}
		}
		if !filepath.IsAbs(raw) {
			raw = filepath.Join(baseDir, raw)
		}
		return filepath.Clean(raw)
	}
	return Paths{
		DataRaw:     resolve(p.DataRaw),
		DataCurated: resolve(p.DataCurated),
		Reports:     resolve(p.Reports),
	}
}
