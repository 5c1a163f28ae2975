package cli

import (
	"errors"

	"github.com/fpang/image-insight/internal/auth"
)

// DescribeKeyError returns advice for an API key problem reported by
// auth.ValidateAPIKey or the key lookup.
func DescribeKeyError(err error) string {
	if auth.IsConfigurationError(err) {
		return "No API key configured. Set GEMINI_API_KEY or add it to .env"
	}

	var keyErr *auth.KeyValidationError
	if !errors.As(err, &keyErr) {
		return "Unexpected error during API key validation"
	}
	switch keyErr.Type {
	case auth.ErrTypeNoKey:
		return "No API key configured. Set GEMINI_API_KEY or add it to .env"
	case auth.ErrTypeInvalidKey:
		return "Invalid API key. Please check your API key and try again"
	case auth.ErrTypeNetworkError:
		return "Network error. Please check your internet connection"
	case auth.ErrTypeQuotaExceeded:
		return "API quota exceeded. Please try again later or check your usage limits"
	default:
		return "API key validation failed"
	}
}
