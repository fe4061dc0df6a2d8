package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryTimeLayout is the format of Transaction.EntryTime.
const EntryTimeLayout = "2006-01-02 15:04:05"

// DateLayout is the format of Transaction.Date and of the admin date filter.
const DateLayout = "2006-01-02"

// IST is the fixed +05:30 offset toll entry times are recorded in.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// Transaction is a recorded toll payment.
type Transaction struct {
	ID        int64           `json:"id"`
	CarNumber string          `json:"car_number"`
	Amount    decimal.Decimal `json:"amount"`
	Date      string          `json:"date"`
	EntryTime string          `json:"entry_time"`
}

// FormatEntryTime converts t to IST and formats it as EntryTimeLayout.
func FormatEntryTime(t time.Time) string {
	return t.UTC().In(IST).Format(EntryTimeLayout)
}
