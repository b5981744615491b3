package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/nstogner/tiered/pkg/domain"
)

// classifyError maps a genai error onto the domain taxonomy. Quota and rate
// limit responses become domain.ErrQuotaExhausted, everything else
// domain.ErrBackend. Context errors are passed through untouched.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		return fmt.Errorf("%w: %v", domain.ErrBackend, err)
	}

	if apiErr.Code == http.StatusTooManyRequests || strings.Contains(apiErr.Status, "RESOURCE_EXHAUSTED") {
		return fmt.Errorf("%w: %s", domain.ErrQuotaExhausted, apiErr.Message)
	}
	return fmt.Errorf("%w: %d %s", domain.ErrBackend, apiErr.Code, apiErr.Message)
}
