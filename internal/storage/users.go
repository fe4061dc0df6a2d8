package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"toll-plaza/internal/models"

	"github.com/shopspring/decimal"
)

const userColumns = "id, name, car_number, email, password, balance, role, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u       models.User
		balance string
		role    string
	)
	err := row.Scan(&u.ID, &u.Name, &u.CarNumber, &u.Email, &u.PasswordHash, &balance, &role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("user %d: corrupt balance %q: %w", u.ID, balance, err)
	}
	u.Role = models.Role(role)
	return &u, nil
}

// CreateUser inserts a new user. A taken e-mail or car number is reported as
// ErrDuplicateEmail or ErrDuplicateCarNumber and nothing is written.
func (db *DB) CreateUser(ctx context.Context, nu models.NewUser) (*models.User, error) {
	if nu.Role == "" {
		nu.Role = models.RoleUser
	}
	if !nu.Role.Valid() {
		return nil, fmt.Errorf("unknown role %q", nu.Role)
	}

	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO user (name, car_number, email, password, balance, role) VALUES (?, ?, ?, ?, ?, ?)",
		nu.Name, nu.CarNumber, nu.Email, nu.PasswordHash, nu.Balance.String(), string(nu.Role),
	)
	if err != nil {
		return nil, uniqueViolation(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+userColumns+" FROM user WHERE id = ?", id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by e-mail address.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+userColumns+" FROM user WHERE email = ?", email)
	return scanUser(row)
}

// UserCount returns the number of users in the database.
func (db *DB) UserCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM user").Scan(&count)
	return count, err
}
