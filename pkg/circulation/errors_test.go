package circulation_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"libraryhub/pkg/circulation"
)

func TestErrorMatchesSentinelByReason(t *testing.T) {
	wrapped := fmt.Errorf("issue: %w", circulation.ErrNoCopiesAvailable)

	assert.ErrorIs(t, wrapped, circulation.ErrNoCopiesAvailable)
	assert.NotErrorIs(t, wrapped, circulation.ErrAlreadyIssued)
	assert.Equal(t, circulation.KindConflict, circulation.KindOf(wrapped))
	assert.Equal(t, circulation.ReasonNoCopiesAvailable, circulation.ReasonOf(wrapped))
}

func TestStorageFailureHidesCauseFromMessage(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.5:5432: connection refused")

	err := circulation.StorageFailure(cause)

	assert.ErrorIs(t, err, circulation.ErrStorageUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "storage unavailable", circulation.MessageOf(err))
	assert.NotContains(t, circulation.MessageOf(err), "10.0.0.5")
}

func TestStorageFailureKeepsDomainErrors(t *testing.T) {
	err := circulation.StorageFailure(circulation.ErrLoanNotFound)

	assert.Equal(t, circulation.KindNotFound, circulation.KindOf(err))
	assert.Nil(t, circulation.StorageFailure(nil))
}

func TestKindOfUnknownErrorIsStorageFailure(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, circulation.KindStorageFailure, circulation.KindOf(err))
	assert.Equal(t, "storage unavailable", circulation.MessageOf(err))
}

func TestInvalidIsValidationKind(t *testing.T) {
	err := circulation.Invalid("%s is required", "titleId")

	assert.Equal(t, circulation.KindValidation, circulation.KindOf(err))
	assert.Equal(t, "titleId is required", circulation.MessageOf(err))
}
