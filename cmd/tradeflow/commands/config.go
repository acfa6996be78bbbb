package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wonny/tradeflow/internal/strategyconfig"
	"github.com/wonny/tradeflow/pkg/config"
)

// configCmd groups strategy configuration utilities
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "전략 설정 검증 및 조회",
	Long: `전략 YAML을 검증하고 해시/스냅샷을 출력합니다.

Subcommands:
  validate  - 설정 검증 (경고 포함)
  show      - 기본값이 적용된 설정을 JSON으로 출력
  snapshot  - 재현성용 의사결정 스냅샷 출력
  init      - paths.* 디렉터리 생성

Example:
  go run ./cmd/tradeflow config validate --strategy config/strategy.yaml`,
}

var (
	configValidateCmd = &cobra.Command{
		Use:   "validate",
		Short: "설정 검증",
		RunE:  runConfigValidate,
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "설정 출력",
		RunE:  runConfigShow,
	}

	configSnapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "의사결정 스냅샷 출력",
		RunE:  runConfigSnapshot,
	}

	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "데이터/리포트 디렉터리 생성",
		RunE:  runConfigInit,
	}
)

var (
	snapshotGitCommit string
	snapshotDataID    string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSnapshotCmd)
	configCmd.AddCommand(configInitCmd)

	configSnapshotCmd.Flags().StringVar(&snapshotGitCommit, "git-commit", "", "git commit of the deployed code")
	configSnapshotCmd.Flags().StringVar(&snapshotDataID, "data-snapshot", "", "identifier of the curated data snapshot")
}

// loadStrategyConfig resolves --strategy (or $STRATEGY_CONFIG) and loads it
func loadStrategyConfig() (*strategyconfig.Config, []byte, string, error) {
	path := strategyPath
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, "", fmt.Errorf("load config: %w", err)
		}
		path = cfg.StrategyConfigPath
	}
	sc, raw, err := strategyconfig.Load(path)
	return sc, raw, path, err
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	sc, _, path, err := loadStrategyConfig()
	if err != nil {
		var verr strategyconfig.ValidationError
		if errors.As(err, &verr) {
			PrintError(fmt.Sprintf("%s: %s", path, verr.Error()))
		} else {
			PrintError(err.Error())
		}
		return err
	}

	hash, err := strategyconfig.Hash(sc)
	if err != nil {
		return err
	}

	PrintHeader("Strategy Configuration", [][2]string{
		{"File", path},
		{"Strategy", sc.Meta.StrategyID + " v" + sc.Meta.Version},
		{"Universe", strconv.Itoa(len(sc.Universe.Tickers)) + " tickers"},
		{"Cadence", sc.Rebalance.Cadence},
		{"Hash", hash},
	})

	warnings := strategyconfig.Warn(sc)
	for _, w := range warnings {
		PrintWarning(fmt.Sprintf("[%s] %s", w.Code, w.Message))
	}
	PrintSuccess(fmt.Sprintf("Configuration valid (%d warnings)", len(warnings)))
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	sc, _, _, err := loadStrategyConfig()
	if err != nil {
		return err
	}
	return PrintJSON(sc)
}

func runConfigSnapshot(cmd *cobra.Command, args []string) error {
	sc, raw, _, err := loadStrategyConfig()
	if err != nil {
		return err
	}
	snapshot, err := strategyconfig.NewDecisionSnapshot(sc, raw, snapshotGitCommit, snapshotDataID)
	if err != nil {
		return err
	}
	return PrintJSON(snapshot)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	sc, _, _, err := loadStrategyConfig()
	if err != nil {
		return err
	}
	if err := strategyconfig.EnsureDirectories(sc); err != nil {
		return err
	}
	PrintList(sc.Paths.Directories())
	PrintSuccess("Directories ready")
	return nil
}
