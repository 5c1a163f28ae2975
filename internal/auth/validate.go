package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fpang/image-insight/internal/metrics"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// KeyErrorType categorizes API key validation failures.
type KeyErrorType int

const (
	ErrTypeNoKey KeyErrorType = iota
	ErrTypeInvalidKey
	ErrTypeNetworkError
	ErrTypeQuotaExceeded
	ErrTypeUnknown
)

// String returns the metric label for the failure type.
func (t KeyErrorType) String() string {
	switch t {
	case ErrTypeNoKey:
		return "no_key"
	case ErrTypeInvalidKey:
		return "invalid"
	case ErrTypeNetworkError:
		return "network_error"
	case ErrTypeQuotaExceeded:
		return "quota"
	default:
		return "unknown"
	}
}

// KeyValidationError is returned when the Gemini API rejects the key or the
// validation call cannot complete.
type KeyValidationError struct {
	Type    KeyErrorType
	Message string
	Err     error
}

func (e *KeyValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *KeyValidationError) Unwrap() error {
	return e.Err
}

// ModelsClient is the part of *genai.Models used for key validation.
type ModelsClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ValidateAPIKey makes a minimal request against model and returns nil when
// the key works, or a *KeyValidationError describing the failure.
func ValidateAPIKey(ctx context.Context, models ModelsClient, model string) error {
	log.Debug().Str("model", model).Msg("Validating API key with Gemini API")

	start := time.Now()
	resp, err := models.GenerateContent(ctx, model, genai.Text("hi"), nil)

	var valErr *KeyValidationError
	switch {
	case err != nil:
		valErr = classifyError(err)
	case resp == nil || len(resp.Candidates) == 0:
		valErr = &KeyValidationError{Type: ErrTypeUnknown, Message: "API returned empty response"}
	}

	result := "success"
	if valErr != nil {
		result = valErr.Type.String()
	}
	metrics.New(metrics.Namespace).
		Dimension("Result", result).
		Since("ApiKeyValidationMs", start).
		Count("ApiKeyValidationResult").
		Flush()

	if valErr != nil {
		return valErr
	}
	log.Info().Dur("duration", time.Since(start)).Msg("API key validated successfully")
	return nil
}

func classifyError(err error) *KeyValidationError {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}

	errLower := strings.ToLower(err.Error())
	containsAny := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(errLower, s) {
				return true
			}
		}
		return false
	}

	switch {
	case containsAny("api key not valid", "invalid api key", "api_key_invalid", "permission denied"):
		log.Error().Err(err).Msg("Invalid API key")
		return &KeyValidationError{Type: ErrTypeInvalidKey, Message: "API key is invalid or has been revoked", Err: err}
	case containsAny("quota", "resource exhausted", "rate limit"):
		log.Error().Err(err).Msg("API quota exceeded")
		return &KeyValidationError{Type: ErrTypeQuotaExceeded, Message: "API quota exceeded or rate limited", Err: err}
	case containsAny("connection", "network", "timeout", "dial", "no such host", "unreachable"):
		log.Error().Err(err).Msg("Network error during API validation")
		return &KeyValidationError{Type: ErrTypeNetworkError, Message: "Network error - check your internet connection", Err: err}
	default:
		log.Error().Err(err).Msg("Unknown error during API validation")
		return &KeyValidationError{Type: ErrTypeUnknown, Message: "Failed to validate API key", Err: err}
	}
}

func classifyAPIError(err *genai.APIError) *KeyValidationError {
	log.Error().Int("code", err.Code).Str("message", err.Message).Msg("Gemini API error during key validation")
	switch err.Code {
	case 400:
		return &KeyValidationError{Type: ErrTypeInvalidKey, Message: "Bad request - API key may be malformed", Err: err}
	case 401, 403:
		return &KeyValidationError{Type: ErrTypeInvalidKey, Message: "API key is invalid, expired, or lacks permissions", Err: err}
	case 429:
		return &KeyValidationError{Type: ErrTypeQuotaExceeded, Message: "API rate limit exceeded - try again later", Err: err}
	case 500, 502, 503, 504:
		return &KeyValidationError{Type: ErrTypeNetworkError, Message: "Gemini API server error - try again later", Err: err}
	default:
		return &KeyValidationError{Type: ErrTypeUnknown, Message: err.Message, Err: err}
	}
}
