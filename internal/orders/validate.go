package orders

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wonny/orderdesk/backend/internal/contracts"
)

// Validation reasons
const (
	ReasonSymbolRequired = "symbol_required"
	ReasonSymbolFormat   = "symbol_format"
	ReasonAmountRequired = "amount_required"
	ReasonAmountTooSmall = "amount_too_small"
)

var (
	symbolPattern = regexp.MustCompile(`^[A-Z]+$`)
	minAmount     = decimal.NewFromInt(1)
)

// CreateCandidate is an unvalidated create request as typed by the user
type CreateCandidate struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

// ValidationError is a single field-level rejection
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// ValidationErrors lists every rejected field, one entry per field
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, ve := range e {
		parts[i] = ve.Error()
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// StatusCode implements StatusError
func (e ValidationErrors) StatusCode() int {
	return http.StatusUnprocessableEntity
}

// Has reports whether field was rejected with reason
func (e ValidationErrors) Has(field, reason string) bool {
	for _, ve := range e {
		if ve.Field == field && ve.Reason == reason {
			return true
		}
	}
	return false
}

// ValidateCreate checks a candidate before it is sent anywhere.
// Symbols are not upper-cased here; normalization belongs to the input surface.
func ValidateCreate(c CreateCandidate) (contracts.OrderCreate, ValidationErrors) {
	var errs ValidationErrors

	switch {
	case c.Symbol == "":
		errs = append(errs, ValidationError{Field: "symbol", Reason: ReasonSymbolRequired})
	case !symbolPattern.MatchString(c.Symbol):
		errs = append(errs, ValidationError{Field: "symbol", Reason: ReasonSymbolFormat})
	}

	amountStr := strings.TrimSpace(c.Amount)
	var amount decimal.Decimal
	if amountStr == "" {
		errs = append(errs, ValidationError{Field: "amount", Reason: ReasonAmountRequired})
	} else {
		parsed, err := decimal.NewFromString(amountStr)
		if err != nil || parsed.LessThan(minAmount) {
			errs = append(errs, ValidationError{Field: "amount", Reason: ReasonAmountTooSmall})
		}
		amount = parsed
	}

	if len(errs) > 0 {
		return contracts.OrderCreate{}, errs
	}
	return contracts.OrderCreate{Symbol: c.Symbol, Amount: amount}, nil
}

// Revalidate re-checks an already typed OrderCreate on the service side
func Revalidate(in contracts.OrderCreate) (contracts.OrderCreate, ValidationErrors) {
	return ValidateCreate(CreateCandidate{Symbol: in.Symbol, Amount: in.Amount.String()})
}
