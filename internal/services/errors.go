package services

import (
	"errors"
	"fmt"

	"github.com/orderdesk/api/internal/repositories"
)

var (
	// ErrInvalidInput signals the caller provided invalid data.
	ErrInvalidInput = errors.New("fulfillment: invalid input")
	// ErrNotFound indicates the referenced aggregate could not be located.
	ErrNotFound = errors.New("fulfillment: not found")
	// ErrInvalidTransition indicates the requested status change is not a legal edge.
	ErrInvalidTransition = errors.New("fulfillment: invalid status transition")
	// ErrInvalidAmount indicates a refund amount outside the permitted bounds.
	ErrInvalidAmount = errors.New("fulfillment: invalid amount")
	// ErrNotEligible indicates the order does not qualify for the requested operation.
	ErrNotEligible = errors.New("fulfillment: order not eligible")
	// ErrMissingResolution indicates an issue was resolved without a resolution text.
	ErrMissingResolution = errors.New("fulfillment: resolution is required")
	// ErrConflict indicates the aggregate changed underneath the caller.
	ErrConflict = errors.New("fulfillment: conflict")
	// ErrUnavailable indicates a transient persistence failure worth retrying.
	ErrUnavailable = errors.New("fulfillment: temporarily unavailable")
)

// mapRepositoryError translates RepositoryError categories into the shared sentinels.
func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return err
}
