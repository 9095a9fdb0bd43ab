package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

const (
	CollectionRents      = "rents"
	CollectionLightBills = "lightbills"
	CollectionDeposits   = "deposits"
	CollectionExpenses   = "expenses"
	CollectionDocuments  = "documents"
)

// Collections lists the five dashboard collections in display order.
var Collections = []string{
	CollectionRents,
	CollectionLightBills,
	CollectionDeposits,
	CollectionExpenses,
	CollectionDocuments,
}

const (
	PaymentCash   = "cash"
	PaymentCheque = "cheque"
	PaymentOnline = "online"
)

const (
	ExpenseKindHome     = "homeexpense"
	ExpenseKindProperty = "property"
)

var HomeExpenseCategories = []string{
	"Maintenance",
	"Repair",
	"Electricity",
	"Water",
	"Cleaning",
	"Security",
	"Other",
}

// Amount decodes a money or meter value sent either as a JSON number or as a
// numeric string. Empty and malformed values decode to zero.
type Amount float64

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*a = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		n, ok := finite(strconv.ParseFloat(strings.TrimSpace(s), 64))
		if !ok {
			*a = 0
			return nil
		}
		*a = Amount(n)
		return nil
	}
	n, ok := finite(strconv.ParseFloat(string(b), 64))
	if !ok {
		*a = 0
		return nil
	}
	*a = Amount(n)
	return nil
}

type Base struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type RentRecord struct {
	Base
	Floor       string `json:"floor"`
	Name        string `json:"name"`
	Mobile      string `json:"mobile"`
	FromMonth   string `json:"fromMonth"`
	ToMonth     string `json:"toMonth"`
	RentAmount  Amount `json:"rentAmount"`
	PaymentType string `json:"paymentType"`
}

type ElectricityBillRecord struct {
	Base
	Floor           string `json:"floor"`
	Name            string `json:"name"`
	LastUnit        Amount `json:"lastUnit"`
	LastUnitDate    string `json:"lastUnitDate"`
	CurrentUnit     Amount `json:"currentUnit"`
	CurrentUnitDate string `json:"currentUnitDate"`
	DepositAmount   Amount `json:"depositAmount"`
	AmountType      string `json:"amountType"`
	Amount          Amount `json:"amount"`
}

type DepositRecord struct {
	Base
	Floor         string `json:"floor"`
	Name          string `json:"name"`
	JoiningDate   string `json:"joiningDate"`
	DepositAmount Amount `json:"depositAmount"`
	AmountType    string `json:"amountType"`
}

type ExpenseRecord struct {
	Base
	Type        string `json:"type"`
	ExpenseType string `json:"expenseType"`
	Property    string `json:"property"`
	Amount      Amount `json:"amount"`
	Date        string `json:"date"`
	TakenPerson string `json:"takenPerson"`
}

type DocumentRecord struct {
	Base
	Floor      string `json:"floor"`
	Name       string `json:"name"`
	Pancard    string `json:"pancard"`
	Aadhar     string `json:"aadhar"`
	PancardURL string `json:"pancardUrl,omitempty"`
	AadharURL  string `json:"aadharUrl,omitempty"`
}

// DecodeRecord converts a stored record into one of the typed views above.
func DecodeRecord[T any](rec Record) (T, error) {
	var out T
	b, err := json.Marshal(rec)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(b, &out)
	return out, err
}

// DecodeRecords decodes every record, skipping ones that do not fit T.
func DecodeRecords[T any](recs []Record) []T {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := DecodeRecord[T](rec)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
