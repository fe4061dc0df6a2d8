package handlers

import (
	"net/http"
	"sort"
	"time"

	"toll-plaza/internal/models"
	"toll-plaza/internal/storage"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// VehicleTotal represents a vehicle with its toll statistics.
type VehicleTotal struct {
	CarNumber  string
	Total      decimal.Decimal
	Count      int
	Percentage decimal.Decimal
}

// AdminViewModel is the data passed to the admin view template.
type AdminViewModel struct {
	Date         string
	Total        decimal.Decimal
	Vehicles     []VehicleTotal
	Transactions []models.Transaction
	Error        string
}

// Admin lists every toll transaction, optionally restricted to one date.
func (h *Handlers) Admin(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date != "" {
		if _, err := time.Parse(models.DateLayout, date); err != nil {
			h.renderStatus(w, r, http.StatusBadRequest, "admin.html", AdminViewModel{
				Date:  date,
				Error: "Date must be in YYYY-MM-DD format",
			})
			return
		}
	}

	txs, err := h.db.ListTransactions(r.Context(), storage.TransactionFilter{Date: date})
	if err != nil {
		h.logger.Error("list transactions", zap.String("date", date), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	total, vehicles := vehicleTotals(txs)
	h.render(w, r, "admin.html", AdminViewModel{
		Date:         date,
		Total:        total,
		Vehicles:     vehicles,
		Transactions: txs,
	})
}

// vehicleTotals sums tolls per car number, largest total first.
func vehicleTotals(txs []models.Transaction) (decimal.Decimal, []VehicleTotal) {
	total := decimal.Zero
	byCar := make(map[string]*VehicleTotal)
	for _, tx := range txs {
		total = total.Add(tx.Amount)
		vt, ok := byCar[tx.CarNumber]
		if !ok {
			vt = &VehicleTotal{CarNumber: tx.CarNumber, Total: decimal.Zero}
			byCar[tx.CarNumber] = vt
		}
		vt.Total = vt.Total.Add(tx.Amount)
		vt.Count++
	}

	vehicles := make([]VehicleTotal, 0, len(byCar))
	for _, vt := range byCar {
		if total.IsPositive() {
			vt.Percentage = vt.Total.Mul(hundred).Div(total).Round(1)
		}
		vehicles = append(vehicles, *vt)
	}
	sort.Slice(vehicles, func(i, j int) bool {
		if c := vehicles[i].Total.Cmp(vehicles[j].Total); c != 0 {
			return c > 0
		}
		return vehicles[i].CarNumber < vehicles[j].CarNumber
	})
	return total, vehicles
}
