package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"toll-plaza/internal/auth"
	"toll-plaza/internal/models"
	"toll-plaza/internal/storage"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type registerForm struct {
	Name      string `label:"Name" validate:"required,max=100"`
	CarNumber string `label:"Car number" validate:"required,alphanum,max=20"`
	Email     string `label:"Email" validate:"required,email,max=254"`
	Password  string `label:"Password" validate:"required,min=6,max=72"`
	Balance   string `label:"Initial balance" validate:"required,numeric"`
}

type loginForm struct {
	Email    string `label:"Email" validate:"required,email"`
	Password string `label:"Password" validate:"required"`
}

type amountForm struct {
	Amount string `label:"Amount" validate:"required,numeric"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("label")
	})
	return v
}

// validationMessage turns the first validation failure into a sentence fit
// for the page.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid form submission"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "alphanum":
		return fe.Field() + " may only contain letters and digits"
	case "numeric":
		return fe.Field() + " must be a number"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	}
	return fe.Field() + " is invalid"
}

// amountMessage describes why an amount was refused.
func amountMessage(err error) string {
	msg, _ := strings.CutPrefix(err.Error(), storage.ErrInvalidAmount.Error()+": ")
	return "Amount " + msg
}

// parseAmount reads the positive amount field of a submitted form.
func (h *Handlers) parseAmount(r *http.Request) (decimal.Decimal, string) {
	if err := r.ParseForm(); err != nil {
		return decimal.Zero, "Invalid form submission"
	}
	form := amountForm{Amount: strings.TrimSpace(r.FormValue("amount"))}
	if err := h.validate.Struct(form); err != nil {
		return decimal.Zero, validationMessage(err)
	}
	amount, err := decimal.NewFromString(form.Amount)
	if err != nil {
		return decimal.Zero, "Amount must be a number"
	}
	if err := storage.ValidateAmount(amount, false); err != nil {
		return decimal.Zero, amountMessage(err)
	}
	return amount, ""
}

// RegisterViewModel holds data for the registration page. The password is
// never echoed back.
type RegisterViewModel struct {
	Name      string
	CarNumber string
	Email     string
	Balance   string
	Error     string
}

// RegisterForm renders the registration page.
func (h *Handlers) RegisterForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "register.html", RegisterViewModel{})
}

// Register creates a user from the registration form.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderStatus(w, r, http.StatusBadRequest, "register.html", RegisterViewModel{Error: "Invalid form submission"})
		return
	}

	form := registerForm{
		Name:      strings.TrimSpace(r.FormValue("name")),
		CarNumber: models.NormalizeCarNumber(r.FormValue("car_number")),
		Email:     models.NormalizeEmail(r.FormValue("email")),
		Password:  r.FormValue("password"),
		Balance:   strings.TrimSpace(r.FormValue("balance")),
	}
	vm := RegisterViewModel{Name: form.Name, CarNumber: form.CarNumber, Email: form.Email, Balance: form.Balance}
	reject := func(status int, msg string) {
		vm.Error = msg
		h.renderStatus(w, r, status, "register.html", vm)
	}

	if err := h.validate.Struct(form); err != nil {
		reject(http.StatusBadRequest, validationMessage(err))
		return
	}
	balance, err := decimal.NewFromString(form.Balance)
	if err != nil {
		reject(http.StatusBadRequest, "Initial balance must be a number")
		return
	}
	if err := storage.ValidateAmount(balance, true); err != nil {
		reject(http.StatusBadRequest, "Initial balance"+strings.TrimPrefix(amountMessage(err), "Amount"))
		return
	}

	hash, err := auth.HashPassword(form.Password)
	if err != nil {
		h.logger.Error("hash password", zap.Error(err))
		reject(http.StatusInternalServerError, "An error occurred. Please try again.")
		return
	}

	user, err := h.db.CreateUser(r.Context(), models.NewUser{
		Name:         form.Name,
		CarNumber:    form.CarNumber,
		Email:        form.Email,
		PasswordHash: hash,
		Balance:      balance,
		Role:         models.RoleUser,
	})
	switch {
	case errors.Is(err, storage.ErrDuplicateEmail):
		reject(http.StatusConflict, "An account with this email already exists")
		return
	case errors.Is(err, storage.ErrDuplicateCarNumber):
		reject(http.StatusConflict, "This car number is already registered")
		return
	case err != nil:
		h.logger.Error("create user", zap.Error(err))
		reject(http.StatusInternalServerError, "An error occurred. Please try again.")
		return
	}

	h.logger.Info("user registered", zap.Int64("user_id", user.ID), zap.String("car_number", user.CarNumber))
	http.Redirect(w, r, "/login", http.StatusFound)
}
