package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"toll-plaza/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxBalanceAttempts bounds compare-and-update retries for one mutation.
const maxBalanceAttempts = 3

// MaxAmount is the largest single toll, recharge or opening balance accepted.
var MaxAmount = decimal.NewFromInt(1_000_000)

var errBalanceChanged = errors.New("balance changed")

// ValidateAmount checks that amount has at most two decimal places and lies
// in (0, MaxAmount]. With allowZero, zero is accepted as well.
func ValidateAmount(amount decimal.Decimal, allowZero bool) error {
	switch {
	case amount.IsNegative():
		return fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	case amount.IsZero() && !allowZero:
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	case amount.GreaterThan(MaxAmount):
		return fmt.Errorf("%w: must not exceed %s", ErrInvalidAmount, MaxAmount)
	case !amount.Equal(amount.Round(2)):
		return fmt.Errorf("%w: at most two decimal places", ErrInvalidAmount)
	}
	return nil
}

type account struct {
	carNumber  string
	rawBalance string
	balance    decimal.Decimal
}

func loadAccount(ctx context.Context, tx *sql.Tx, userID int64) (account, error) {
	var a account
	err := tx.QueryRowContext(ctx, "SELECT car_number, balance FROM user WHERE id = ?", userID).
		Scan(&a.carNumber, &a.rawBalance)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, fmt.Errorf("load account %d: %w", userID, err)
	}
	a.balance, err = decimal.NewFromString(a.rawBalance)
	if err != nil {
		return a, fmt.Errorf("user %d: corrupt balance %q: %w", userID, a.rawBalance, err)
	}
	return a, nil
}

// updateBalance reads the user's balance, lets next compute the new value and
// writes it back only if the stored value is still the one that was read.
// record, if set, runs in the same transaction after the balance write.
func (db *DB) updateBalance(
	ctx context.Context,
	userID int64,
	next func(a account) (decimal.Decimal, error),
	record func(ctx context.Context, tx *sql.Tx, a account) error,
) (decimal.Decimal, error) {
	for attempt := 1; attempt <= maxBalanceAttempts; attempt++ {
		var updated decimal.Decimal
		err := db.withTx(ctx, func(tx *sql.Tx) error {
			a, err := loadAccount(ctx, tx, userID)
			if err != nil {
				return err
			}

			nb, err := next(a)
			if err != nil {
				return err
			}

			res, err := tx.ExecContext(ctx,
				"UPDATE user SET balance = ? WHERE id = ? AND balance = ?",
				nb.String(), userID, a.rawBalance,
			)
			if err != nil {
				return fmt.Errorf("update balance: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return errBalanceChanged
			}

			if record != nil {
				if err := record(ctx, tx, a); err != nil {
					return err
				}
			}
			updated = nb
			return nil
		})
		if errors.Is(err, errBalanceChanged) {
			db.logger.Warn("balance compare-and-update missed, retrying",
				zap.Int64("user_id", userID), zap.Int("attempt", attempt))
			continue
		}
		return updated, err
	}
	return decimal.Zero, ErrConcurrentUpdate
}

// PayToll debits amount from the user's balance and records a transaction
// stamped with at in IST. Both writes commit together or not at all. When the
// balance is lower than amount, ErrInsufficientBalance is returned and nothing
// changes.
func (db *DB) PayToll(ctx context.Context, userID int64, amount decimal.Decimal, at time.Time) (*models.Transaction, error) {
	if err := ValidateAmount(amount, false); err != nil {
		return nil, err
	}

	var txn *models.Transaction
	_, err := db.updateBalance(ctx, userID,
		func(a account) (decimal.Decimal, error) {
			if a.balance.LessThan(amount) {
				return decimal.Zero, ErrInsufficientBalance
			}
			return a.balance.Sub(amount), nil
		},
		func(ctx context.Context, tx *sql.Tx, a account) error {
			t := models.Transaction{
				CarNumber: a.carNumber,
				Amount:    amount,
				EntryTime: models.FormatEntryTime(at),
			}
			err := tx.QueryRowContext(ctx,
				"INSERT INTO transactions (car_number, amount, entry_time) VALUES (?, ?, ?) RETURNING id, date",
				t.CarNumber, t.Amount.String(), t.EntryTime,
			).Scan(&t.ID, &t.Date)
			if err != nil {
				return fmt.Errorf("insert transaction: %w", err)
			}
			txn = &t
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// Recharge credits amount to the user's balance and returns the new balance.
// No transaction row is written.
func (db *DB) Recharge(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateAmount(amount, false); err != nil {
		return decimal.Zero, err
	}
	return db.updateBalance(ctx, userID,
		func(a account) (decimal.Decimal, error) {
			return a.balance.Add(amount), nil
		},
		nil,
	)
}

// TransactionFilter narrows ListTransactions. The zero value matches all rows.
type TransactionFilter struct {
	// Date restricts results to one calendar date (YYYY-MM-DD).
	Date string
}

// ListTransactionsByCar returns the transactions of one vehicle in insertion order.
func (db *DB) ListTransactionsByCar(ctx context.Context, carNumber string) ([]models.Transaction, error) {
	return db.queryTransactions(ctx,
		"SELECT id, car_number, amount, date, entry_time FROM transactions WHERE car_number = ? ORDER BY id",
		carNumber,
	)
}

// ListTransactions returns transactions of all vehicles in insertion order.
func (db *DB) ListTransactions(ctx context.Context, f TransactionFilter) ([]models.Transaction, error) {
	if f.Date == "" {
		return db.queryTransactions(ctx,
			"SELECT id, car_number, amount, date, entry_time FROM transactions ORDER BY id")
	}
	return db.queryTransactions(ctx,
		"SELECT id, car_number, amount, date, entry_time FROM transactions WHERE date = ? ORDER BY id",
		f.Date,
	)
}

func (db *DB) queryTransactions(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var (
			t      models.Transaction
			amount string
		)
		if err := rows.Scan(&t.ID, &t.CarNumber, &amount, &t.Date, &t.EntryTime); err != nil {
			return nil, err
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %d: corrupt amount %q: %w", t.ID, amount, err)
		}
		txns = append(txns, t)
	}

	return txns, rows.Err()
}
