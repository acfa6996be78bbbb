package main

import (
	"os"

	"github.com/wonny/tradeflow/cmd/tradeflow/commands"
)

// main is the entry point for the tradeflow CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/tradeflow [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
