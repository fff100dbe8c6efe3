package utils

import "github.com/shopspring/decimal"

var decimalOneHundred = decimal.NewFromInt(100)

// CalculateTaxAmount returns the exclusive tax on amount at rate percent.
func CalculateTaxAmount(amount decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() || amount.IsZero() {
		return decimal.Zero
	}
	// Tax-exclusive: (amount / 100) * rate
	return amount.DivRound(decimalOneHundred, 4).Mul(rate)
}

// StorageScale is the number of decimal places of every quantity and money column.
const StorageScale = 4

// FitsStorageScale reports whether d survives a decimal(20,4) column unchanged.
// Trailing zeros do not count, so 1.50000 fits.
func FitsStorageScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(StorageScale))
}

// LineAmount is quantity * rate rounded to the storage scale. Callers that need
// the exact product check it with FitsStorageScale first.
func LineAmount(quantity decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	return quantity.Mul(rate).Round(StorageScale)
}
