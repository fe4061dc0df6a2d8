package storage

import (
	"context"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"toll-plaza/internal/auth"
	"toll-plaza/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

var entryTimePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// DBTestSuite provides a test suite for user and ledger operations
type DBTestSuite struct {
	suite.Suite
	db  *DB
	ctx context.Context
}

// SetupTest runs before each test
func (suite *DBTestSuite) SetupTest() {
	db, err := NewDB(":memory:", zap.NewNop())
	require.NoError(suite.T(), err, "failed to create test database")
	suite.db = db
	suite.ctx = context.Background()
}

// TearDownTest runs after each test
func (suite *DBTestSuite) TearDownTest() {
	if suite.db != nil {
		suite.db.Close()
	}
}

func (suite *DBTestSuite) createUser(name, car, email, balance string) *models.User {
	hash, err := auth.HashPassword("secret123")
	require.NoError(suite.T(), err)

	u, err := suite.db.CreateUser(suite.ctx, models.NewUser{
		Name:         name,
		CarNumber:    car,
		Email:        email,
		PasswordHash: hash,
		Balance:      dec(balance),
	})
	require.NoError(suite.T(), err, "failed to create user %s", email)
	return u
}

func (suite *DBTestSuite) balanceOf(id int64) decimal.Decimal {
	u, err := suite.db.GetUserByID(suite.ctx, id)
	require.NoError(suite.T(), err)
	return u.Balance
}

func (suite *DBTestSuite) transactionCount() int {
	var n int
	require.NoError(suite.T(), suite.db.conn.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&n))
	return n
}

func (suite *DBTestSuite) TestCreateUser() {
	hash, err := auth.HashPassword("hunter22")
	require.NoError(suite.T(), err)

	u, err := suite.db.CreateUser(suite.ctx, models.NewUser{
		Name:         "Asha",
		CarNumber:    "KA01AB1234",
		Email:        "asha@example.com",
		PasswordHash: hash,
		Balance:      dec("250.75"),
	})
	require.NoError(suite.T(), err)

	assert.NotZero(suite.T(), u.ID)
	assert.Equal(suite.T(), models.RoleUser, u.Role)
	assert.True(suite.T(), dec("250.75").Equal(u.Balance), "balance %s", u.Balance)
	assert.NotEqual(suite.T(), "hunter22", u.PasswordHash)
	assert.True(suite.T(), auth.CheckPassword("hunter22", u.PasswordHash))
	assert.False(suite.T(), auth.CheckPassword("hunter23", u.PasswordHash))

	byEmail, err := suite.db.GetUserByEmail(suite.ctx, "asha@example.com")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), u.ID, byEmail.ID)
	assert.Equal(suite.T(), "KA01AB1234", byEmail.CarNumber)
}

func (suite *DBTestSuite) TestCreateAdminUser() {
	u, err := suite.db.CreateUser(suite.ctx, models.NewUser{
		Name: "Root", CarNumber: "ADMIN", Email: "admin@toll.com", PasswordHash: "x",
		Balance: decimal.Zero, Role: models.RoleAdmin,
	})
	require.NoError(suite.T(), err)
	assert.True(suite.T(), u.IsAdmin())

	_, err = suite.db.CreateUser(suite.ctx, models.NewUser{
		Name: "Bad", CarNumber: "X1", Email: "bad@toll.com", PasswordHash: "x", Role: "root",
	})
	assert.Error(suite.T(), err)
}

func (suite *DBTestSuite) TestCreateUserDuplicates() {
	suite.createUser("First", "KA01", "first@example.com", "10")

	_, err := suite.db.CreateUser(suite.ctx, models.NewUser{
		Name: "Second", CarNumber: "KA02", Email: "first@example.com", PasswordHash: "x", Balance: dec("5"),
	})
	assert.ErrorIs(suite.T(), err, ErrDuplicateEmail)

	_, err = suite.db.CreateUser(suite.ctx, models.NewUser{
		Name: "Third", CarNumber: "KA01", Email: "third@example.com", PasswordHash: "x", Balance: dec("5"),
	})
	assert.ErrorIs(suite.T(), err, ErrDuplicateCarNumber)

	count, err := suite.db.UserCount(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, count, "failed registrations must not leave rows behind")
}

func (suite *DBTestSuite) TestGetUserNotFound() {
	_, err := suite.db.GetUserByEmail(suite.ctx, "nobody@example.com")
	assert.ErrorIs(suite.T(), err, ErrNotFound)

	_, err = suite.db.GetUserByID(suite.ctx, 999)
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *DBTestSuite) TestPayToll() {
	u := suite.createUser("Asha", "KA01", "asha@example.com", "100")
	at := time.Date(2024, 5, 10, 4, 0, 0, 0, time.UTC)

	txn, err := suite.db.PayToll(suite.ctx, u.ID, dec("35.50"), at)
	require.NoError(suite.T(), err)

	assert.NotZero(suite.T(), txn.ID)
	assert.Equal(suite.T(), "KA01", txn.CarNumber)
	assert.True(suite.T(), dec("35.5").Equal(txn.Amount))
	assert.Equal(suite.T(), "2024-05-10 09:30:00", txn.EntryTime)
	assert.Regexp(suite.T(), entryTimePattern, txn.EntryTime)
	assert.Regexp(suite.T(), `^\d{4}-\d{2}-\d{2}$`, txn.Date)

	assert.True(suite.T(), dec("64.5").Equal(suite.balanceOf(u.ID)))
	assert.Equal(suite.T(), 1, suite.transactionCount())
}

func (suite *DBTestSuite) TestPayTollExactBalance() {
	u := suite.createUser("Asha", "KA01", "asha@example.com", "20")

	_, err := suite.db.PayToll(suite.ctx, u.ID, dec("20"), time.Now())
	require.NoError(suite.T(), err)
	assert.True(suite.T(), suite.balanceOf(u.ID).IsZero())
}

func (suite *DBTestSuite) TestPayTollInsufficientBalance() {
	u := suite.createUser("Asha", "KA01", "asha@example.com", "10")

	_, err := suite.db.PayToll(suite.ctx, u.ID, dec("10.01"), time.Now())
	assert.ErrorIs(suite.T(), err, ErrInsufficientBalance)

	assert.True(suite.T(), dec("10").Equal(suite.balanceOf(u.ID)), "balance must be unchanged")
	assert.Equal(suite.T(), 0, suite.transactionCount(), "no transaction must be recorded")
}

func (suite *DBTestSuite) TestPayTollUnknownUser() {
	_, err := suite.db.PayToll(suite.ctx, 42, dec("1"), time.Now())
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *DBTestSuite) TestInvalidAmounts() {
	u := suite.createUser("Asha", "KA01", "asha@example.com", "100")

	for _, s := range []string{"0", "-5", "1.005", "1000000.01"} {
		_, err := suite.db.PayToll(suite.ctx, u.ID, dec(s), time.Now())
		assert.ErrorIs(suite.T(), err, ErrInvalidAmount, "pay %s", s)

		_, err = suite.db.Recharge(suite.ctx, u.ID, dec(s))
		assert.ErrorIs(suite.T(), err, ErrInvalidAmount, "recharge %s", s)
	}

	assert.True(suite.T(), dec("100").Equal(suite.balanceOf(u.ID)))
	assert.Equal(suite.T(), 0, suite.transactionCount())
}

func (suite *DBTestSuite) TestRecharge() {
	u := suite.createUser("Asha", "KA01", "asha@example.com", "0.10")

	balance, err := suite.db.Recharge(suite.ctx, u.ID, dec("0.20"))
	require.NoError(suite.T(), err)

	assert.True(suite.T(), dec("0.30").Equal(balance), "got %s", balance)
	assert.True(suite.T(), dec("0.30").Equal(suite.balanceOf(u.ID)))
	assert.Equal(suite.T(), 0, suite.transactionCount(), "recharge must not create transactions")
}

func (suite *DBTestSuite) TestListTransactionsByCar() {
	a := suite.createUser("A", "CAR-A", "a@example.com", "100")
	b := suite.createUser("B", "CAR-B", "b@example.com", "100")

	for _, amt := range []string{"1", "2", "3"} {
		_, err := suite.db.PayToll(suite.ctx, a.ID, dec(amt), time.Now())
		require.NoError(suite.T(), err)
	}
	_, err := suite.db.PayToll(suite.ctx, b.ID, dec("9"), time.Now())
	require.NoError(suite.T(), err)

	txns, err := suite.db.ListTransactionsByCar(suite.ctx, "CAR-A")
	require.NoError(suite.T(), err)
	require.Len(suite.T(), txns, 3)
	for i, want := range []string{"1", "2", "3"} {
		assert.Equal(suite.T(), "CAR-A", txns[i].CarNumber)
		assert.True(suite.T(), dec(want).Equal(txns[i].Amount), "insertion order")
	}

	txns, err = suite.db.ListTransactionsByCar(suite.ctx, "CAR-B")
	require.NoError(suite.T(), err)
	require.Len(suite.T(), txns, 1)
	assert.Equal(suite.T(), "CAR-B", txns[0].CarNumber)
}

func (suite *DBTestSuite) TestListTransactionsDateFilter() {
	suite.createUser("A", "CAR-A", "a@example.com", "100")
	suite.createUser("B", "CAR-B", "b@example.com", "100")

	rows := []struct {
		car  string
		date string
	}{
		{"CAR-A", "2024-01-01"},
		{"CAR-B", "2024-01-01"},
		{"CAR-A", "2024-01-02"},
	}
	for _, r := range rows {
		_, err := suite.db.conn.Exec(
			"INSERT INTO transactions (car_number, amount, date, entry_time) VALUES (?, '5', ?, ?)",
			r.car, r.date, r.date+" 10:00:00",
		)
		require.NoError(suite.T(), err)
	}

	all, err := suite.db.ListTransactions(suite.ctx, TransactionFilter{})
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), all, 3)

	day, err := suite.db.ListTransactions(suite.ctx, TransactionFilter{Date: "2024-01-01"})
	require.NoError(suite.T(), err)
	require.Len(suite.T(), day, 2)
	for _, t := range day {
		assert.Equal(suite.T(), "2024-01-01", t.Date)
	}

	none, err := suite.db.ListTransactions(suite.ctx, TransactionFilter{Date: "2023-12-31"})
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), none)
}

func (suite *DBTestSuite) TestTransactionRequiresKnownCar() {
	_, err := suite.db.conn.Exec(
		"INSERT INTO transactions (car_number, amount, entry_time) VALUES ('GHOST', '5', '2024-01-01 00:00:00')",
	)
	assert.Error(suite.T(), err, "foreign key on car_number must be enforced")
}

func (suite *DBTestSuite) TestConcurrentPayTollNeverOverdraws() {
	u := suite.createUser("Asha", "KA01", "asha@example.com", "100")

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := suite.db.PayToll(suite.ctx, u.ID, dec("30"), time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(suite.T(), err, ErrInsufficientBalance):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(suite.T(), 3, succeeded)
	assert.Equal(suite.T(), workers-3, rejected)
	assert.True(suite.T(), dec("10").Equal(suite.balanceOf(u.ID)), "got %s", suite.balanceOf(u.ID))
	assert.Equal(suite.T(), 3, suite.transactionCount())
}

func (suite *DBTestSuite) TestConcurrentRechargeKeepsEveryCredit() {
	u := suite.createUser("Asha", "KA01", "asha@example.com", "0")

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := suite.db.Recharge(suite.ctx, u.ID, dec("2.50"))
			assert.NoError(suite.T(), err)
		}()
	}
	wg.Wait()

	assert.True(suite.T(), dec("50").Equal(suite.balanceOf(u.ID)), "got %s", suite.balanceOf(u.ID))
}

// SessionTestSuite provides a test suite for session operations
type SessionTestSuite struct {
	suite.Suite
	db   *DB
	ctx  context.Context
	user *models.User
}

// SetupTest runs before each test
func (suite *SessionTestSuite) SetupTest() {
	db, err := NewDB(":memory:", zap.NewNop())
	require.NoError(suite.T(), err, "failed to create test database")
	suite.db = db
	suite.ctx = context.Background()

	password, err := auth.HashPassword("testpass")
	require.NoError(suite.T(), err, "failed to hash password")

	user, err := suite.db.CreateUser(suite.ctx, models.NewUser{
		Name: "Test", CarNumber: "TEST1", Email: "test@example.com", PasswordHash: password, Balance: dec("1"),
	})
	require.NoError(suite.T(), err, "failed to create test user")
	suite.user = user
}

// TearDownTest runs after each test
func (suite *SessionTestSuite) TearDownTest() {
	if suite.db != nil {
		suite.db.Close()
	}
}

func (suite *SessionTestSuite) TestCreateAndValidateSession() {
	token := auth.NewSessionToken()

	expiresAt := time.Now().Add(30 * 24 * time.Hour)
	err := suite.db.CreateSession(suite.ctx, token, suite.user.ID, expiresAt)
	require.NoError(suite.T(), err)

	sessionUser, err := suite.db.ValidateSession(suite.ctx, token)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "test@example.com", sessionUser.Email)
	assert.Equal(suite.T(), models.RoleUser, sessionUser.Role)
}

func (suite *SessionTestSuite) TestValidateSessionWithInfo() {
	token := auth.NewSessionToken()

	expiresAt := time.Now().Add(30 * 24 * time.Hour)
	err := suite.db.CreateSession(suite.ctx, token, suite.user.ID, expiresAt)
	require.NoError(suite.T(), err)

	info, err := suite.db.ValidateSessionWithInfo(suite.ctx, token)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "TEST1", info.User.CarNumber)

	timeSinceActivity := time.Since(info.LastActivity)
	assert.Less(suite.T(), timeSinceActivity, 5*time.Second, "LastActivity should be recent")
}

func (suite *SessionTestSuite) TestExpiredSessionIsRejected() {
	token := auth.NewSessionToken()
	err := suite.db.CreateSession(suite.ctx, token, suite.user.ID, time.Now().Add(-time.Minute))
	require.NoError(suite.T(), err)

	_, err = suite.db.ValidateSession(suite.ctx, token)
	assert.ErrorIs(suite.T(), err, ErrNotFound)

	n, err := suite.db.CleanExpiredSessions(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), n)
}

func (suite *SessionTestSuite) TestRenewSession() {
	token := auth.NewSessionToken()

	originalExpiry := time.Now().Add(30 * 24 * time.Hour)
	err := suite.db.CreateSession(suite.ctx, token, suite.user.ID, originalExpiry)
	require.NoError(suite.T(), err)

	time.Sleep(10 * time.Millisecond)

	originalInfo, err := suite.db.ValidateSessionWithInfo(suite.ctx, token)
	require.NoError(suite.T(), err)

	newExpiry := time.Now().Add(60 * 24 * time.Hour)
	err = suite.db.RenewSession(suite.ctx, token, newExpiry)
	require.NoError(suite.T(), err)

	updatedInfo, err := suite.db.ValidateSessionWithInfo(suite.ctx, token)
	require.NoError(suite.T(), err)

	assert.True(suite.T(), updatedInfo.LastActivity.After(originalInfo.LastActivity),
		"LastActivity should be updated after renewal")
	assert.True(suite.T(), updatedInfo.ExpiresAt.After(originalInfo.ExpiresAt),
		"ExpiresAt should be extended after renewal")
}

func (suite *SessionTestSuite) TestDeleteSession() {
	token := auth.NewSessionToken()

	expiresAt := time.Now().Add(30 * 24 * time.Hour)
	err := suite.db.CreateSession(suite.ctx, token, suite.user.ID, expiresAt)
	require.NoError(suite.T(), err)

	_, err = suite.db.ValidateSession(suite.ctx, token)
	require.NoError(suite.T(), err, "session should exist before deletion")

	err = suite.db.DeleteSession(suite.ctx, token)
	require.NoError(suite.T(), err)

	_, err = suite.db.ValidateSession(suite.ctx, token)
	assert.ErrorIs(suite.T(), err, ErrNotFound, "expected error after deleting session")

	// Deleting twice is harmless.
	assert.NoError(suite.T(), suite.db.DeleteSession(suite.ctx, token))
}

func TestNewDBCreatesFileAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toll.db")

	db, err := NewDB(path, zap.NewNop())
	require.NoError(t, err)
	_, err = db.CreateUser(context.Background(), models.NewUser{
		Name: "A", CarNumber: "A1", Email: "a@example.com", PasswordHash: "x", Balance: dec("3"),
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.FileExists(t, path)

	// Migrations are idempotent and data survives a restart.
	db, err = NewDB(path, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	count, err := db.UserCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, ValidateAmount(dec("0.01"), false))
	assert.NoError(t, ValidateAmount(dec("12.50"), false))
	assert.NoError(t, ValidateAmount(dec("1000000"), false))
	assert.NoError(t, ValidateAmount(decimal.Zero, true))

	assert.ErrorIs(t, ValidateAmount(decimal.Zero, false), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(dec("-1"), true), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(dec("0.001"), false), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(dec("1000000.5"), false), ErrInvalidAmount)
}

// Test suite runners
func TestDBSuite(t *testing.T) {
	suite.Run(t, new(DBTestSuite))
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
