package main

import (
	"os"

	"github.com/wonny/orderdesk/backend/cmd/orderdesk/commands"
)

// main is the entry point for the orderdesk CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/orderdesk [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
