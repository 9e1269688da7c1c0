package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/shipwright/internal/core/domain"
)

// =============================================================================
// Executor Tests
// =============================================================================

func TestExecutorRun_RecordsSuccessfulAttempt(t *testing.T) {
	st := setupTestStore(t)
	executor := NewExecutor(st, setupTestLogger())
	ctx := context.Background()

	result, err := executor.Run(ctx, "deploy-1-abc123", domain.StepValidate, func(ctx context.Context) (domain.StepResult, error) {
		return domain.StepResult{Status: domain.StepOK, Output: "Compose file is valid"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StepOK, result.Status)

	records, err := st.ListStepRecords(ctx, "deploy-1-abc123")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.StepValidate, records[0].Step)
	assert.Equal(t, 1, records[0].Attempt)
	assert.Equal(t, domain.StepOK, records[0].Status)
	assert.Equal(t, "Compose file is valid", records[0].Output)
	assert.False(t, records[0].FinishedAt.IsZero())
}

func TestExecutorRun_BusinessFailureNotRetried(t *testing.T) {
	st := setupTestStore(t)
	executor := NewExecutor(st, setupTestLogger())
	ctx := context.Background()

	calls := 0
	result, err := executor.Run(ctx, "deploy-1-abc123", domain.StepValidate, func(ctx context.Context) (domain.StepResult, error) {
		calls++
		return domain.StepResult{Status: domain.StepFailed, Output: "Validation FAILED"}, nil
	})
	require.NoError(t, err)
	assert.True(t, result.Failed())
	assert.Equal(t, 1, calls, "a business failure is an outcome, not a retry trigger")

	records, err := st.ListStepRecords(ctx, "deploy-1-abc123")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.StepFailed, records[0].Status)
	assert.Equal(t, "Validation FAILED", records[0].Output)
}

func TestExecutorRun_RetriesInfrastructureErrors(t *testing.T) {
	st := setupTestStore(t)
	executor := NewExecutor(st, setupTestLogger())
	ctx := context.Background()

	calls := 0
	result, err := executor.Run(ctx, "deploy-1-abc123", domain.StepValidate, func(ctx context.Context) (domain.StepResult, error) {
		calls++
		if calls == 1 {
			return domain.StepResult{}, errors.New("read compose file: connection reset")
		}
		return domain.StepResult{Status: domain.StepOK, Output: "recovered"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StepOK, result.Status)
	assert.Equal(t, "recovered", result.Output)
	assert.Equal(t, 2, calls)

	records, err := st.ListStepRecords(ctx, "deploy-1-abc123")
	require.NoError(t, err)
	require.Len(t, records, 2, "every attempt leaves a record")
	assert.Equal(t, domain.StepFailed, records[0].Status)
	assert.Contains(t, records[0].Error, "connection reset")
	assert.Equal(t, 1, records[0].Attempt)
	assert.Equal(t, domain.StepOK, records[1].Status)
	assert.Equal(t, 2, records[1].Attempt)
}

func TestExecutorRun_ExhaustsAttempts(t *testing.T) {
	st := setupTestStore(t)
	executor := NewExecutor(st, setupTestLogger())
	ctx := context.Background()

	cause := errors.New("docker daemon unreachable")
	calls := 0
	_, err := executor.Run(ctx, "deploy-1-abc123", domain.StepValidate, func(ctx context.Context) (domain.StepResult, error) {
		calls++
		return domain.StepResult{}, cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "exhausted 2 attempts")
	assert.Equal(t, 2, calls, "validate allows two attempts")

	records, err := st.ListStepRecords(ctx, "deploy-1-abc123")
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, domain.StepFailed, record.Status)
		assert.Contains(t, record.Error, "docker daemon unreachable")
	}
}

func TestExecutorRun_SingleAttemptPolicy(t *testing.T) {
	st := setupTestStore(t)
	executor := NewExecutor(st, setupTestLogger())
	ctx := context.Background()

	calls := 0
	_, err := executor.Run(ctx, "deploy-1-abc123", domain.StepDetectConflicts, func(ctx context.Context) (domain.StepResult, error) {
		calls++
		return domain.StepResult{}, errors.New("probe failed")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted 1 attempts")
	assert.Equal(t, 1, calls, "conflict detection never retries")
}

func TestExecutorRun_ContextCancelStopsRetry(t *testing.T) {
	st := setupTestStore(t)
	executor := NewExecutor(st, setupTestLogger())
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := executor.Run(ctx, "deploy-1-abc123", domain.StepValidate, func(ctx context.Context) (domain.StepResult, error) {
		calls++
		cancel()
		return domain.StepResult{}, errors.New("interrupted")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation wins over the retry backoff")
}

func TestExecutorRun_RecordVisibleWhileRunning(t *testing.T) {
	st := setupTestStore(t)
	executor := NewExecutor(st, setupTestLogger())
	ctx := context.Background()

	_, err := executor.Run(ctx, "deploy-1-abc123", domain.StepValidate, func(ctx context.Context) (domain.StepResult, error) {
		// The attempt's record is committed before the body runs, so a
		// crash mid-step leaves a visible running row.
		records, lerr := st.ListStepRecords(ctx, "deploy-1-abc123")
		if lerr != nil {
			return domain.StepResult{}, lerr
		}
		if len(records) != 1 {
			return domain.StepResult{}, errors.New("expected one in-flight record")
		}
		if records[0].Status != domain.StepRunning {
			return domain.StepResult{}, errors.New("in-flight record should be running")
		}
		if !records[0].FinishedAt.IsZero() {
			return domain.StepResult{}, errors.New("in-flight record should be unfinished")
		}
		return domain.StepResult{Status: domain.StepOK}, nil
	})
	require.NoError(t, err)

	records, err := st.ListStepRecords(ctx, "deploy-1-abc123")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.StepOK, records[0].Status)
}
