package core

import (
	"errors"
	"log/slog"
	"regexp"

	"github.com/go-playground/validator/v10"

	"faberland/internal/types"
)

// walletAddressRe matches an EVM wallet address: 0x plus 40 hex characters.
// Checksum casing is not enforced here; addresses are matched
// case-insensitively everywhere downstream.
var walletAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Validator wraps go-playground/validator with the domain-specific rules
// used by the request boundary:
//
//	term           -- one of monthly/quarterly/yearly
//	wallet_address -- 0x-prefixed 40-hex-char EVM address
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers the custom tags. Tag
// registration only fails on programmer error (empty tag name), so a failure
// here panics at startup rather than returning an error.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New()

	mustRegister(v, "term", func(fl validator.FieldLevel) bool {
		return types.RentalTerm(fl.Field().String()).Valid()
	})
	mustRegister(v, "wallet_address", func(fl validator.FieldLevel) bool {
		return walletAddressRe.MatchString(fl.Field().String())
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic("registering validation tag " + tag + ": " + err.Error())
	}
}

// ValidateStruct validates the struct and translates the first failure into
// a field-specific AppError. The details map carries every failed field so
// clients can fix all problems in one pass.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		// InvalidValidationError: the caller passed a non-struct.
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"validation target must be a struct",
			err,
		)
	}

	details := make(map[string]any, len(validationErrs))
	for _, fe := range validationErrs {
		details[fe.Field()] = failureReason(fe)
	}

	first := validationErrs[0]
	return types.NewAppErrorWithDetails(
		codeForFailure(first),
		"request validation failed",
		nil,
		details,
	)
}

// codeForFailure picks the error code for a single field failure.
func codeForFailure(fe validator.FieldError) types.ErrorCode {
	switch fe.Tag() {
	case "required":
		return types.ErrCodeValidationMissingField
	case "term":
		return types.ErrCodeValidationInvalidTerm
	case "wallet_address":
		return types.ErrCodeValidationInvalidAddress
	case "email":
		return types.ErrCodeValidationInvalidEmail
	case "min", "max":
		if fe.Field() == "PlotID" {
			return types.ErrCodeValidationInvalidPlotID
		}
		return types.ErrCodeValidationMissingField
	default:
		return types.ErrCodeValidationMissingField
	}
}

// failureReason renders a client-facing reason string for a field failure.
func failureReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "term":
		return "must be one of monthly, quarterly, yearly"
	case "wallet_address":
		return "must be a 0x-prefixed 40-character hex address"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return "failed rule " + fe.Tag()
	}
}
