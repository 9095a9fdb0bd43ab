package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ElectricityRatePerUnit is the fixed tariff charged per consumed meter unit.
var ElectricityRatePerUnit = decimal.RequireFromString("9.5")

// ElectricityAmount returns (current - last) * rate rounded to two places.
// ok is false when either reading is missing or not numeric, or when the
// meter did not advance; no positive amount is produced in those cases.
func ElectricityAmount(fields Fields) (decimal.Decimal, bool) {
	last, okLast := fields.Number("lastUnit")
	current, okCurrent := fields.Number("currentUnit")
	if !okLast || !okCurrent {
		return decimal.Zero, false
	}
	units := decimal.NewFromFloat(current).Sub(decimal.NewFromFloat(last))
	if !units.IsPositive() {
		return decimal.Zero, false
	}
	return units.Mul(ElectricityRatePerUnit).Round(2), true
}

// WithElectricityAmount returns a copy of fields carrying the computed amount.
// Bills whose readings do not yield a positive amount are stored with 0.
func WithElectricityAmount(fields Fields) Fields {
	out := fields.Clone()
	if out == nil {
		out = Fields{}
	}
	amount, _ := ElectricityAmount(fields)
	out["amount"] = json.Number(amount.StringFixed(2))
	return out
}

// SumField adds up a numeric field over records, ignoring values that do not
// parse.
func SumField(records []Record, key string) decimal.Decimal {
	total := decimal.Zero
	for _, rec := range records {
		if n, ok := rec.Data.Number(key); ok {
			total = total.Add(decimal.NewFromFloat(n))
		}
	}
	return total
}
