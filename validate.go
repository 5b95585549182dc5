package tabauth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Initialised once; custom registrations must happen before first use.
var validate = validator.New(validator.WithRequiredStructEnabled())

type credentialsInput struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,max=256"`
}

type emailInput struct {
	Email string `validate:"required,email,max=254"`
}

type tokenInput struct {
	Token string `validate:"required,max=2048"`
}

// checkInput validates s and folds field errors into one ErrInvalidInput.
func checkInput(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
}
