package llm

import (
	"errors"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jonathan/slide-narrator/internal/retry"
)

// Classify marks errors that another attempt cannot fix as permanent:
// blocked content, bad requests, auth failures. Quota and availability
// errors are left retryable.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return retry.Permanent(err)
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated,
		codes.NotFound, codes.FailedPrecondition:
		return retry.Permanent(err)
	}
	return err
}
