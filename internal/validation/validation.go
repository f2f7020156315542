// Package validation checks register and login input before any side effect happens.
package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/ocornejot/api-jwt/internal/models"
)

const msgEmailTaken = "The email has already been taken."

// Errors maps a JSON field name to its failure messages.
type Errors map[string][]string

func (e Errors) Add(field, message string) {
	e[field] = append(e[field], message)
}

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+strings.Join(e[field], " "))
	}

	return "validation failed: " + strings.Join(parts, "; ")
}

func (e Errors) FieldErrors() map[string][]string {
	return e
}

// EmailTaken is the field error reported for a duplicate email.
func EmailTaken() Errors {
	return Errors{"email": {msgEmailTaken}}
}

// UserFinder is the part of the user store needed for the uniqueness rule.
type UserFinder interface {
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
}

type Validator interface {
	Register(ctx context.Context, req models.RegisterRequest) error
	Login(ctx context.Context, req models.LoginRequest) error
}

type credentialValidator struct {
	validate *validator.Validate
	users    UserFinder
}

func New(users UserFinder) Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(jsonFieldName)
	mustRegister(validate, "between", between)
	mustRegister(validate, "maxbytes", maxBytes)

	return &credentialValidator{
		validate: validate,
		users:    users,
	}
}

func (v *credentialValidator) Register(ctx context.Context, req models.RegisterRequest) error {
	const op = "validation.Register"

	errs, err := v.check(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, invalid := errs["email"]; !invalid {
		_, err := v.users.GetUserByEmail(ctx, models.NormalizeEmail(req.Email))
		switch {
		case err == nil:
			errs.Add("email", msgEmailTaken)
		case !errors.Is(err, models.ErrUserNotFound):
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}

func (v *credentialValidator) Login(_ context.Context, req models.LoginRequest) error {
	const op = "validation.Login"

	errs, err := v.check(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}

func (v *credentialValidator) check(req any) (Errors, error) {
	errs := Errors{}

	err := v.validate.Struct(req)
	if err == nil {
		return errs, nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil, err
	}

	for _, fe := range fieldErrs {
		if _, seen := errs[fe.Field()]; seen {
			continue
		}
		errs.Add(fe.Field(), message(fe))
	}

	return errs, nil
}

func message(fe validator.FieldError) string {
	attr := strings.ReplaceAll(fe.Field(), "_", " ")

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", attr)
	case "email":
		return fmt.Sprintf("The %s must be a valid email address.", attr)
	case "min":
		return fmt.Sprintf("The %s must be at least %s characters.", attr, fe.Param())
	case "max":
		return fmt.Sprintf("The %s may not be greater than %s characters.", attr, fe.Param())
	case "maxbytes":
		return fmt.Sprintf("The %s may not be greater than %s bytes.", attr, fe.Param())
	case "between":
		lo, hi, _ := betweenBounds(fe.Param())
		return fmt.Sprintf("The %s must be between %d and %d characters.", attr, lo, hi)
	case "eqfield":
		return fmt.Sprintf("The %s confirmation does not match.", attr)
	default:
		return fmt.Sprintf("The %s is invalid.", attr)
	}
}

// FromBindError turns a JSON decoding failure into field errors where it can.
// It returns nil when err is not a field level problem.
func FromBindError(err error) Errors {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		field := typeErr.Field
		if i := strings.LastIndex(field, "."); i >= 0 {
			field = field[i+1:]
		}

		kind := "a string"
		if typeErr.Type != nil && typeErr.Type.Kind() != reflect.String {
			kind = "of type " + typeErr.Type.String()
		}

		return Errors{field: {fmt.Sprintf("The %s must be %s.", strings.ReplaceAll(field, "_", " "), kind)}}
	}

	return nil
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return field.Name
	}

	return name
}

func mustRegister(validate *validator.Validate, tag string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// maxBytes bounds the encoded length of a string; bcrypt rejects passwords over 72 bytes.
func maxBytes(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}

	return len(fl.Field().String()) <= limit
}

// between checks that a string has between lo and hi runes; the param reads "lo:hi".
func between(fl validator.FieldLevel) bool {
	lo, hi, ok := betweenBounds(fl.Param())
	if !ok {
		return false
	}

	n := utf8.RuneCountInString(fl.Field().String())

	return n >= lo && n <= hi
}

func betweenBounds(param string) (int, int, bool) {
	loStr, hiStr, found := strings.Cut(param, ":")
	if !found {
		return 0, 0, false
	}

	lo, err := strconv.Atoi(loStr)
	if err != nil {
		return 0, 0, false
	}

	hi, err := strconv.Atoi(hiStr)
	if err != nil {
		return 0, 0, false
	}

	return lo, hi, true
}
