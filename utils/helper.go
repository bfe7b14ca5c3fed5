package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ttacon/libphonenumber"
)

var validate = validator.New()

// ValidateStruct validates v with the shared validator instance. Field failures
// come back as a validation AppError wrapping validator.ValidationErrors.
func ValidateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := ProcessValidationErrors(ve)
		parts := make([]string, 0, len(fields))
		for _, fe := range ve {
			parts = append(parts, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
		}
		return &AppError{Kind: ErrKindValidation, Message: strings.Join(parts, "; "), Err: ve}
	}
	return err
}

func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return errorResponse
	}
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}

// NormalizePhoneNumber returns the E.164 form of phoneNumber, parsed with
// defaultRegion when it carries no country prefix.
func NormalizePhoneNumber(phoneNumber, defaultRegion string) (string, error) {
	p, err := libphonenumber.Parse(phoneNumber, defaultRegion)
	if err != nil {
		return "", err
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", fmt.Errorf("phone number is not valid")
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}

func ContainsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
