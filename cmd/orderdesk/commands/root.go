package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "orderdesk",
	Short: "orderdesk - 당일 매수/강제 청산 주문 관리",
	Long: `orderdesk Unified CLI

Alpaca 증권 계좌에 금액 기준 시장가 매수를 넣고,
체결 후 장 마감 전에 포지션을 강제 청산하는 주문 관리 백엔드.

Usage:
  go run ./cmd/orderdesk [command]

Examples:
  go run ./cmd/orderdesk api
  go run ./cmd/orderdesk scheduler start
  go run ./cmd/orderdesk stream
  go run ./cmd/orderdesk orders list --server http://localhost:8080`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
