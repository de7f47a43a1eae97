package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/orderdesk/backend/internal/apiclient"
	"github.com/wonny/orderdesk/backend/internal/contracts"
	"github.com/wonny/orderdesk/backend/internal/orders"
	"github.com/wonny/orderdesk/backend/pkg/httputil"
	"github.com/wonny/orderdesk/backend/pkg/logger"
)

// ordersCmd is the terminal view over a running API server
var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "주문 조회/생성/동기화/삭제 (원격 API)",
	Long: `실행 중인 API 서버에 접속해 주문을 관리합니다.

Subcommands:
  list                 - 주문 목록 (상태: Completed / Buy Filled / Active / Pending)
  create SYMBOL AMOUNT - 금액 기준 시장가 매수 주문 생성
  sync ID              - 주문 동기화
  delete ID            - 주문 삭제
  sync-all             - 전체 주문 동기화
  market               - 다음 장 마감일 조회

Example:
  go run ./cmd/orderdesk orders list --server http://localhost:8080
  go run ./cmd/orderdesk orders create AAPL 100`,
}

var (
	serverURL string

	ordersListCmd = &cobra.Command{
		Use:   "list",
		Short: "주문 목록",
		Args:  cobra.NoArgs,
		RunE:  listOrders,
	}

	ordersCreateCmd = &cobra.Command{
		Use:   "create SYMBOL AMOUNT",
		Short: "주문 생성",
		Args:  cobra.ExactArgs(2),
		RunE:  createOrder,
	}

	ordersSyncCmd = &cobra.Command{
		Use:   "sync ID",
		Short: "주문 동기화",
		Args:  cobra.ExactArgs(1),
		RunE:  syncOrder,
	}

	ordersDeleteCmd = &cobra.Command{
		Use:   "delete ID",
		Short: "주문 삭제",
		Args:  cobra.ExactArgs(1),
		RunE:  deleteOrder,
	}

	ordersSyncAllCmd = &cobra.Command{
		Use:   "sync-all",
		Short: "전체 주문 동기화",
		Args:  cobra.NoArgs,
		RunE:  syncAllOrders,
	}

	ordersMarketCmd = &cobra.Command{
		Use:   "market",
		Short: "다음 장 마감일 조회",
		Args:  cobra.NoArgs,
		RunE:  showMarket,
	}
)

func init() {
	rootCmd.AddCommand(ordersCmd)
	ordersCmd.AddCommand(ordersListCmd)
	ordersCmd.AddCommand(ordersCreateCmd)
	ordersCmd.AddCommand(ordersSyncCmd)
	ordersCmd.AddCommand(ordersDeleteCmd)
	ordersCmd.AddCommand(ordersSyncAllCmd)
	ordersCmd.AddCommand(ordersMarketCmd)

	ordersCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "API 서버 주소")
}

// remote builds the API client for --server
func remote() *apiclient.Client {
	log := logger.NewNop()
	return apiclient.New(serverURL, httputil.New(log).WithTimeout(15*time.Second), log)
}

func listOrders(cmd *cobra.Command, args []string) error {
	list, err := remote().List(cmd.Context())
	if err != nil {
		PrintError("Failed to load orders. Please try again.")
		return err
	}

	if len(list) == 0 {
		PrintInfo("No orders")
		return nil
	}

	widths := []int{6, 8, 12, 11, 12, 12, 20}
	PrintTableHeader([]string{"ID", "SYMBOL", "AMOUNT", "STATUS", "BUY QTY", "SELL QTY", "FORCE SELL AT"}, widths)
	for _, o := range list {
		forceSell := "-"
		if o.ForceSellAt != nil {
			forceSell = o.ForceSellAt.Local().Format(timeLayout)
		}
		PrintTableRow([]string{
			strconv.FormatInt(o.ID, 10),
			o.Symbol,
			o.Amount.StringFixed(2),
			string(orders.Classify(o)),
			formatDecimal(o.BuyFilledQty),
			formatDecimal(o.SellFilledQty),
			forceSell,
		}, widths)
	}

	return nil
}

func createOrder(cmd *cobra.Command, args []string) error {
	// Input surface normalizes case before validation
	candidate := orders.CreateCandidate{
		Symbol: strings.ToUpper(strings.TrimSpace(args[0])),
		Amount: args[1],
	}

	in, verrs := orders.ValidateCreate(candidate)
	if len(verrs) > 0 {
		printValidation(verrs)
		return verrs
	}

	o, err := remote().Create(cmd.Context(), in)
	if err != nil {
		var remoteErrs orders.ValidationErrors
		if errors.As(err, &remoteErrs) {
			printValidation(remoteErrs)
			return err
		}
		PrintError("Failed to create order. Please try again.")
		return err
	}

	PrintSuccess(fmt.Sprintf("Order #%d created: %s $%s (%s)", o.ID, o.Symbol, o.Amount.StringFixed(2), orders.Classify(o)))
	return nil
}

func printValidation(verrs orders.ValidationErrors) {
	messages := map[string]string{
		orders.ReasonSymbolRequired: "Symbol is required",
		orders.ReasonSymbolFormat:   "Symbol must contain only uppercase letters",
		orders.ReasonAmountRequired: "Amount is required",
		orders.ReasonAmountTooSmall: "Amount must be at least 1",
	}
	for _, ve := range verrs {
		PrintError(fmt.Sprintf("%s: %s", ve.Field, messages[ve.Reason]))
	}
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid order id %q", arg)
	}
	return id, nil
}

func syncOrder(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	client := remote()
	coord := orders.NewCoordinator(client, logger.NewNop())
	res, err := coord.RequestSync(cmd.Context(), id)
	return reportAction(res, err, func(o *contracts.Order) {
		PrintKeyValue("Status", string(orders.Classify(o)), 10)
		PrintKeyValue("Lifecycle", string(o.Status), 10)
	})
}

func deleteOrder(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	coord := orders.NewCoordinator(remote(), logger.NewNop())
	res, err := coord.RequestDelete(cmd.Context(), id)
	return reportAction(res, err, nil)
}

// reportAction prints the classified message, never the raw failure
func reportAction(res orders.ActionResult, err error, onOrder func(*contracts.Order)) error {
	if err != nil {
		PrintError("Another action is already in progress for this order.")
		return err
	}

	if res.Outcome != orders.OutcomeSuccess {
		PrintError(res.Message())
		return fmt.Errorf("order %d: %s", res.OrderID, res.Outcome)
	}

	PrintSuccess(res.Message())
	if res.Order != nil && onOrder != nil {
		onOrder(res.Order)
	}
	return nil
}

func syncAllOrders(cmd *cobra.Command, args []string) error {
	summary, err := remote().SyncAll(cmd.Context())
	if err != nil {
		PrintError("Failed to synchronize orders. Please try again.")
		return err
	}

	PrintSuccess(fmt.Sprintf("Synced %d/%d orders (%d failed, %d busy)", summary.Synced, summary.Total, summary.Failed, summary.Skipped))
	return nil
}

func showMarket(cmd *cobra.Command, args []string) error {
	client := remote()

	date, err := client.NextCloseDate(cmd.Context())
	if err != nil {
		PrintError("Failed to load market clock.")
		return err
	}
	today, err := client.IsNextCloseToday(cmd.Context())
	if err != nil {
		PrintError("Failed to load market clock.")
		return err
	}

	PrintKeyValue("Next Close", date, 12)
	PrintKeyValue("Close Today", strconv.FormatBool(today), 12)
	return nil
}
