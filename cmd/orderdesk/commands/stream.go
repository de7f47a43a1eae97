package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/orderdesk/backend/internal/external/alpaca"
	"github.com/wonny/orderdesk/backend/internal/orders"
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Alpaca 체결 스트림 수신",
	Long: `Alpaca trade_updates 웹소켓을 구독하고,
체결/취소 이벤트가 들어올 때마다 해당 주문을 즉시 동기화합니다.

스케줄러의 order_sync 작업을 보완합니다 (폴링 지연 없이 반영).

Example:
  go run ./cmd/orderdesk stream`,
	RunE: runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)
}

func runStream(cmd *cobra.Command, args []string) error {
	fmt.Println("=== orderdesk Trade Stream ===")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Alpaca.APIKey == "" {
		return fmt.Errorf("ALPACA_API_KEY is required for the trade stream")
	}

	stream := alpaca.NewStream(a.cfg.Alpaca, a.log).WithRecorder(a.monitor)
	stream.OnUpdate(func(ctx context.Context, u *alpaca.TradeUpdate) {
		log := a.log.WithFields(map[string]interface{}{
			"event":           u.Event,
			"broker_order_id": u.Order.ID.String(),
		})

		o, err := a.service.SyncByBrokerOrder(ctx, u.Order.ID)
		if errors.Is(err, orders.ErrActionInFlight) {
			// The running action reconciles the same order
			log.Debug("Order busy, trade update left to the running action")
			return
		}
		if err != nil {
			log.WithError(err).Warn("Trade update not applied")
			return
		}
		log.WithOrder(o.ID).WithField("status", string(o.Status)).Info("Order synced from trade update")
	})
	stream.OnError(func(err error) {
		a.log.WithError(err).Warn("Trade stream error")
	})

	PrintSuccess(fmt.Sprintf("Listening on %s", a.cfg.Alpaca.StreamURL))
	fmt.Println("\nPress Ctrl+C to stop")

	return stream.Run(ctx)
}
