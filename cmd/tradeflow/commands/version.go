package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "버전 출력",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tradeflow version: %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
