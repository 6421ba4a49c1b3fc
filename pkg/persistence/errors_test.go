package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leadpipe/orchestrator/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("execution error unwraps to sentinel", func(t *testing.T) {
		t.Parallel()

		err := persistence.NewExecutionError("Update", "exec-123", persistence.ErrExecutionTerminal)

		assert.True(t, persistence.IsExecutionTerminal(err))
		assert.False(t, persistence.IsExecutionNotFound(err))
		assert.True(t, errors.Is(err, persistence.ErrExecutionTerminal))
		assert.Contains(t, err.Error(), "Update")
		assert.Contains(t, err.Error(), "exec-123")
	})

	t.Run("entity error survives further wrapping", func(t *testing.T) {
		t.Parallel()

		err := fmt.Errorf("load lead: %w", persistence.NewEntityError("GetByID", "lead", "lead-1", persistence.ErrLeadNotFound))

		assert.True(t, persistence.IsLeadNotFound(err))
		assert.True(t, persistence.IsNotFound(err))
		assert.False(t, persistence.IsReplyNotFound(err))
	})

	t.Run("unrelated errors are not matched", func(t *testing.T) {
		t.Parallel()

		err := errors.New("connection refused")

		assert.False(t, persistence.IsNotFound(err))
		assert.False(t, persistence.IsExecutionTerminal(err))
	})
}
