// Package provider defines the narrow contract to the external resource
// provider: one create/read/update/delete set shared by every resource kind.
// No retries live here; the reconciler owns retry policy.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/balaji-balu/converge/pkg/model"
)

// Result is the provider's answer for a single operation. Found is false when
// a Read targets a resource that does not exist; that is a success, not an
// error, so drift detection and re-creation checks stay total.
type Result struct {
	ExternalID string
	Attributes model.Attributes
	Found      bool
}

type Client interface {
	Create(ctx context.Context, rec *model.ResourceRecord) (Result, error)
	Read(ctx context.Context, rec *model.ResourceRecord) (Result, error)
	Update(ctx context.Context, rec *model.ResourceRecord) (Result, error)
	// Delete is idempotent: deleting an absent resource succeeds.
	Delete(ctx context.Context, rec *model.ResourceRecord) error
}

// ProviderError is a classified provider failure. Retryable failures
// (throttling, transient network) are retried by the reconciler with backoff;
// permanent ones (quota, invalid reference, permission denied) are not.
type ProviderError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider: %s: %s", e.Code, e.Message)
}

// Retryable reports whether an operation failure is worth retrying. Exceeding
// the caller-supplied deadline counts as transient.
func Retryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}
