package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"toll-plaza/internal/auth"
	"toll-plaza/internal/models"
	"toll-plaza/internal/storage"

	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

const defaultDBPath = "toll_plaza.db"

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("adduser", flag.ContinueOnError)
	fs.SetOutput(stderr)

	name := fs.String("name", "", "Display name")
	car := fs.String("car", "", "Car number")
	email := fs.String("email", "", "Login email")
	passwordFlag := fs.String("password", "", "Password (optional, will prompt if omitted)")
	balanceFlag := fs.String("balance", "0", "Initial balance")
	admin := fs.Bool("admin", false, "Grant the admin role")
	dbPath := fs.String("db", defaultDBPath, "Path to database file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var missing []string
	for _, f := range []struct{ flag, value string }{{"name", *name}, {"car", *car}, {"email", *email}} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.flag)
		}
	}
	if len(missing) > 0 {
		fmt.Fprintln(stdout, "Usage: adduser -name <name> -car <car number> -email <email> [-password <password>] [-balance <amount>] [-admin] [-db <db_path>]")
		fs.PrintDefaults()
		return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}

	balance, err := decimal.NewFromString(*balanceFlag)
	if err != nil {
		return fmt.Errorf("invalid balance %q: %w", *balanceFlag, err)
	}
	if err := storage.ValidateAmount(balance, true); err != nil {
		return fmt.Errorf("invalid balance: %w", err)
	}

	password := *passwordFlag
	if password == "" {
		fmt.Fprint(stdout, "Password: ")
		password, err = readPassword(stdin)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(stdout) // Print newline after password input
	}

	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("password cannot be empty")
	}

	// Allow overriding db path via env var if not explicitly set via flag (flag default is used)
	if path := os.Getenv("DB_PATH"); path != "" && *dbPath == defaultDBPath {
		*dbPath = path
	}

	db, err := storage.NewDB(*dbPath, nil)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	role := models.RoleUser
	if *admin {
		role = models.RoleAdmin
	}
	user, err := db.CreateUser(context.Background(), models.NewUser{
		Name:         strings.TrimSpace(*name),
		CarNumber:    models.NormalizeCarNumber(*car),
		Email:        models.NormalizeEmail(*email),
		PasswordHash: hash,
		Balance:      balance,
		Role:         role,
	})
	switch {
	case errors.Is(err, storage.ErrDuplicateEmail):
		return fmt.Errorf("user with email %s already exists", models.NormalizeEmail(*email))
	case errors.Is(err, storage.ErrDuplicateCarNumber):
		return fmt.Errorf("car number %s already exists", models.NormalizeCarNumber(*car))
	case err != nil:
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Fprintf(stdout, "User %s (%s, %s) created successfully with ID %d\n", user.Email, user.CarNumber, user.Role, user.ID)
	return nil
}

func readPassword(stdin io.Reader) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(bytePassword), nil
	}

	// Fallback for non-terminal (e.g. tests, pipes)
	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
