package orders

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/orderdesk/backend/internal/contracts"
)

func TestValidateCreate(t *testing.T) {
	tests := []struct {
		name      string
		candidate CreateCandidate
		wantErrs  []ValidationError
	}{
		{
			name:      "empty symbol",
			candidate: CreateCandidate{Symbol: "", Amount: "100"},
			wantErrs:  []ValidationError{{"symbol", ReasonSymbolRequired}},
		},
		{
			name:      "lower case symbol",
			candidate: CreateCandidate{Symbol: "aapl", Amount: "100"},
			wantErrs:  []ValidationError{{"symbol", ReasonSymbolFormat}},
		},
		{
			name:      "symbol with digits",
			candidate: CreateCandidate{Symbol: "BRK1", Amount: "100"},
			wantErrs:  []ValidationError{{"symbol", ReasonSymbolFormat}},
		},
		{
			name:      "symbol with punctuation",
			candidate: CreateCandidate{Symbol: "BRK.B", Amount: "100"},
			wantErrs:  []ValidationError{{"symbol", ReasonSymbolFormat}},
		},
		{
			name:      "symbol with space",
			candidate: CreateCandidate{Symbol: "AA PL", Amount: "100"},
			wantErrs:  []ValidationError{{"symbol", ReasonSymbolFormat}},
		},
		{
			name:      "missing amount",
			candidate: CreateCandidate{Symbol: "AAPL", Amount: ""},
			wantErrs:  []ValidationError{{"amount", ReasonAmountRequired}},
		},
		{
			name:      "fractional amount below one",
			candidate: CreateCandidate{Symbol: "AAPL", Amount: "0.5"},
			wantErrs:  []ValidationError{{"amount", ReasonAmountTooSmall}},
		},
		{
			name:      "negative amount",
			candidate: CreateCandidate{Symbol: "AAPL", Amount: "-10"},
			wantErrs:  []ValidationError{{"amount", ReasonAmountTooSmall}},
		},
		{
			name:      "non numeric amount",
			candidate: CreateCandidate{Symbol: "AAPL", Amount: "ten"},
			wantErrs:  []ValidationError{{"amount", ReasonAmountTooSmall}},
		},
		{
			name:      "both fields rejected",
			candidate: CreateCandidate{Symbol: "", Amount: ""},
			wantErrs: []ValidationError{
				{"symbol", ReasonSymbolRequired},
				{"amount", ReasonAmountRequired},
			},
		},
		{
			name:      "exactly one dollar",
			candidate: CreateCandidate{Symbol: "A", Amount: "1"},
		},
		{
			name:      "valid",
			candidate: CreateCandidate{Symbol: "AAPL", Amount: "100"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, errs := ValidateCreate(tt.candidate)

			if len(tt.wantErrs) > 0 {
				assert.Equal(t, ValidationErrors(tt.wantErrs), errs)
				assert.Equal(t, contracts.OrderCreate{}, got)
				return
			}

			require.Empty(t, errs)
			assert.Equal(t, tt.candidate.Symbol, got.Symbol)
			assert.True(t, decimal.RequireFromString(tt.candidate.Amount).Equal(got.Amount))
		})
	}
}

func TestValidateCreate_Approved(t *testing.T) {
	got, errs := ValidateCreate(CreateCandidate{Symbol: "AAPL", Amount: "100"})
	require.Nil(t, errs)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, "100", got.Amount.String())
}

func TestValidationErrors(t *testing.T) {
	errs := ValidationErrors{
		{Field: "symbol", Reason: ReasonSymbolFormat},
		{Field: "amount", Reason: ReasonAmountTooSmall},
	}

	assert.Equal(t, "validation failed: symbol: symbol_format, amount: amount_too_small", errs.Error())
	assert.Equal(t, 422, errs.StatusCode())
	assert.True(t, errs.Has("amount", ReasonAmountTooSmall))
	assert.False(t, errs.Has("amount", ReasonAmountRequired))

	var se StatusError = errs
	assert.Equal(t, 422, StatusOf(se))
}

func TestRevalidate(t *testing.T) {
	_, errs := Revalidate(contracts.OrderCreate{Symbol: "AAPL"})
	assert.True(t, errs.Has("amount", ReasonAmountTooSmall))

	got, errs := Revalidate(contracts.OrderCreate{Symbol: "MSFT", Amount: decimal.NewFromFloat(25.5)})
	require.Empty(t, errs)
	assert.Equal(t, "25.5", got.Amount.String())
}
