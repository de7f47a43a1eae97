package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/orderdesk/backend/internal/api"
	"github.com/wonny/orderdesk/backend/internal/api/handlers"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "API 서버 시작",
	Long: `REST API 서버를 시작합니다.

Endpoints:
  GET    /health                          - Health check
  GET    /metrics                         - Prometheus metrics
  GET    /api/orders                      - 주문 목록 (display_status, busy 포함)
  POST   /api/orders                      - 주문 생성 (금액 기준 시장가 매수)
  GET    /api/orders/{id}                 - 주문 조회
  POST   /api/orders/{id}/sync            - 주문 동기화
  DELETE /api/orders/{id}                 - 주문 삭제
  POST   /api/orders/sync                 - 전체 주문 동기화
  GET    /api/market/next_close_date      - 다음 장 마감일
  GET    /api/market/is_next_close_today  - 오늘 장 마감 여부

Example:
  go run ./cmd/orderdesk api
  go run ./cmd/orderdesk api --port 8080`,
	RunE: runAPIServer,
}

var (
	apiPort string
)

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (default: PORT)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== orderdesk API Server ===")

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	// Override port if flag is set
	if apiPort != "" {
		a.cfg.Port = apiPort
	}

	var metricsHandler http.Handler
	if a.cfg.MetricsEnabled {
		metricsHandler = a.monitor.Handler()
	}

	router := api.NewRouter(api.Routes{
		Orders:  handlers.NewOrderHandler(a.service, a.coordinator, a.log),
		Market:  handlers.NewMarketHandler(a.clock, a.log),
		Metrics: metricsHandler,
	}, a.log)
	server := api.New(a.cfg, a.log, router)

	// Start server with graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	PrintSuccess(fmt.Sprintf("Server running on http://localhost:%s", a.cfg.Port))
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	a.log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	a.log.Info("Server stopped")
	return nil
}
