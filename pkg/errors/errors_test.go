package errors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

var (
	errInner     = errors.New("inner")
	errRootCause = errors.New("root cause")
	errPlain     = errors.New("plain error")
	errPlainCode = errors.New("plain")
)

func TestExitCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"success", nil, walleterr.ExitSuccess},
		{"wallet not found", walleterr.ErrWalletNotFound, walleterr.ExitNotFound},
		{"invalid structure", walleterr.ErrInvalidStructure, walleterr.ExitInput},
		{"wallet access failed", walleterr.ErrWalletAccessFailed, walleterr.ExitAuth},
		{"item not found", walleterr.ErrItemNotFound, walleterr.ExitNotFound},
		{"invalid wallet handle", walleterr.ErrInvalidWalletHandle, walleterr.ExitInput},
		{"invalid state", walleterr.ErrInvalidState, walleterr.ExitGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code := walleterr.ExitCode(tt.err)
			assert.Equal(t, tt.expected, code)
		})
	}
}

func TestExitCodeWrappedError(t *testing.T) {
	t.Parallel()
	wrapped := walleterr.Wrap(walleterr.ErrWalletNotFound, "wallet main")
	code := walleterr.ExitCode(wrapped)
	assert.Equal(t, walleterr.ExitNotFound, code)
}

func TestSentinelErrors(t *testing.T) {
	t.Parallel()
	// Verify that wrapping preserves error identity
	wrapped := walleterr.Wrap(walleterr.ErrInvalidState, "wrapped")
	require.ErrorIs(t, wrapped, walleterr.ErrInvalidState)

	wrapped = walleterr.Wrap(walleterr.ErrInvalidStructure, "wrapped")
	require.ErrorIs(t, wrapped, walleterr.ErrInvalidStructure)

	wrapped = walleterr.Wrap(walleterr.ErrWalletAccessFailed, "wrapped")
	require.ErrorIs(t, wrapped, walleterr.ErrWalletAccessFailed)

	wrapped = walleterr.Wrap(walleterr.ErrWalletNotFound, "wrapped")
	require.ErrorIs(t, wrapped, walleterr.ErrWalletNotFound)

	wrapped = walleterr.Wrap(walleterr.ErrInvalidWalletHandle, "wrapped")
	require.ErrorIs(t, wrapped, walleterr.ErrInvalidWalletHandle)

	wrapped = walleterr.Wrap(walleterr.ErrItemAlreadyExists, "wrapped")
	require.ErrorIs(t, wrapped, walleterr.ErrItemAlreadyExists)
}

func TestErrorCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err      error
		expected string
	}{
		{walleterr.ErrInvalidState, "INVALID_STATE"},
		{walleterr.ErrInvalidStructure, "INVALID_STRUCTURE"},
		{walleterr.ErrWalletAccessFailed, "WALLET_ACCESS_FAILED"},
		{walleterr.ErrWalletNotFound, "WALLET_NOT_FOUND"},
		{walleterr.ErrInvalidWalletHandle, "INVALID_WALLET_HANDLE"},
		{walleterr.ErrItemAlreadyExists, "ITEM_ALREADY_EXISTS"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			t.Parallel()
			var we *walleterr.WalletError
			require.ErrorAs(t, tt.err, &we)
			assert.Equal(t, tt.expected, we.Code)
		})
	}
}

func TestWithDetails(t *testing.T) {
	t.Parallel()
	details := map[string]string{
		"type": "Indy::Connection",
		"name": "conn1",
	}

	err := walleterr.WithDetails(walleterr.ErrItemAlreadyExists, details)

	var we *walleterr.WalletError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, details, we.Details)
}

func TestWithSuggestion(t *testing.T) {
	t.Parallel()
	suggestion := "did you register the \"postgres\" storage type before opening this wallet?"
	err := walleterr.WithSuggestion(walleterr.ErrUnknownStorageType, suggestion)

	var we *walleterr.WalletError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, suggestion, we.Suggestion)
}

func TestWithDetailsAndSuggestion(t *testing.T) {
	t.Parallel()
	details := map[string]string{"key": "value"}
	suggestion := "try this instead"

	err := walleterr.WithDetails(walleterr.ErrInvalidState, details)
	err = walleterr.WithSuggestion(err, suggestion)

	var we *walleterr.WalletError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, details, we.Details)
	assert.Equal(t, suggestion, we.Suggestion)
}

func TestWrap(t *testing.T) {
	t.Parallel()
	wrapped := walleterr.Wrap(walleterr.ErrWalletNotFound, "wallet %s", "main")
	assert.Contains(t, wrapped.Error(), "wallet main")
	assert.ErrorIs(t, wrapped, walleterr.ErrWalletNotFound)
}

func TestNew(t *testing.T) {
	t.Parallel()
	err := walleterr.New("CUSTOM_ERROR", "custom error message")
	assert.Equal(t, "custom error message", err.Error())

	var we *walleterr.WalletError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "CUSTOM_ERROR", we.Code)
}

func TestWalletError_Error(t *testing.T) {
	t.Parallel()

	t.Run("message only", func(t *testing.T) {
		t.Parallel()
		err := &walleterr.WalletError{Code: "TEST", Message: "something failed"}
		assert.Equal(t, "something failed", err.Error())
	})

	t.Run("with details sorted", func(t *testing.T) {
		t.Parallel()
		err := &walleterr.WalletError{
			Code:    "TEST",
			Message: "failed",
			Details: map[string]string{"beta": "2", "alpha": "1"},
		}
		assert.Equal(t, "failed (alpha: 1) (beta: 2)", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		t.Parallel()
		err := &walleterr.WalletError{
			Code:    "TEST",
			Message: "outer",
			Cause:   errInner,
		}
		assert.Equal(t, "outer: inner", err.Error())
	})

	t.Run("with details and cause", func(t *testing.T) {
		t.Parallel()
		err := &walleterr.WalletError{
			Code:    "TEST",
			Message: "outer",
			Details: map[string]string{"key": "val"},
			Cause:   errInner,
		}
		assert.Equal(t, "outer (key: val): inner", err.Error())
	})
}

func TestWalletError_Error_deterministic(t *testing.T) {
	t.Parallel()
	err := &walleterr.WalletError{
		Code:    "TEST",
		Message: "msg",
		Details: map[string]string{
			"charlie": "3",
			"alpha":   "1",
			"bravo":   "2",
			"delta":   "4",
		},
	}
	first := err.Error()
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, err.Error(), "Error() output must be deterministic (iteration %d)", i)
	}
}

func TestWalletError_Unwrap(t *testing.T) {
	t.Parallel()

	t.Run("with cause", func(t *testing.T) {
		t.Parallel()
		err := &walleterr.WalletError{Code: "TEST", Message: "wrapper", Cause: errRootCause}
		assert.Equal(t, errRootCause, err.Unwrap())
	})

	t.Run("nil cause", func(t *testing.T) {
		t.Parallel()
		err := &walleterr.WalletError{Code: "TEST", Message: "no cause"}
		assert.NoError(t, err.Unwrap())
	})
}

func TestWalletError_Is(t *testing.T) {
	t.Parallel()

	t.Run("matching code", func(t *testing.T) {
		t.Parallel()
		a := &walleterr.WalletError{Code: "SAME_CODE", Message: "a"}
		b := &walleterr.WalletError{Code: "SAME_CODE", Message: "b"}
		assert.True(t, a.Is(b))
	})

	t.Run("different code", func(t *testing.T) {
		t.Parallel()
		a := &walleterr.WalletError{Code: "CODE_A", Message: "a"}
		b := &walleterr.WalletError{Code: "CODE_B", Message: "b"}
		assert.False(t, a.Is(b))
	})

	t.Run("non-WalletError target", func(t *testing.T) {
		t.Parallel()
		a := &walleterr.WalletError{Code: "TEST", Message: "a"}
		assert.False(t, a.Is(errPlain))
	})
}

func TestAs(t *testing.T) {
	t.Parallel()

	t.Run("WalletError target", func(t *testing.T) {
		t.Parallel()
		err := walleterr.Wrap(walleterr.ErrWalletNotFound, "wrapped")
		var we *walleterr.WalletError
		assert.True(t, walleterr.As(err, &we))
		assert.Equal(t, "WALLET_NOT_FOUND", we.Code)
	})

	t.Run("non-WalletError", func(t *testing.T) {
		t.Parallel()
		var we *walleterr.WalletError
		assert.False(t, walleterr.As(errPlain, &we))
	})
}

func TestIs(t *testing.T) {
	t.Parallel()

	t.Run("matching sentinel", func(t *testing.T) {
		t.Parallel()
		wrapped := walleterr.Wrap(walleterr.ErrWalletNotFound, "context")
		assert.True(t, walleterr.Is(wrapped, walleterr.ErrWalletNotFound))
	})

	t.Run("non-matching", func(t *testing.T) {
		t.Parallel()
		wrapped := walleterr.Wrap(walleterr.ErrWalletNotFound, "context")
		assert.False(t, walleterr.Is(wrapped, walleterr.ErrInvalidWalletHandle))
	})

	t.Run("nil error", func(t *testing.T) {
		t.Parallel()
		assert.False(t, walleterr.Is(nil, walleterr.ErrInvalidState))
	})
}

func TestCode_edgeCases(t *testing.T) {
	t.Parallel()

	t.Run("WalletError", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "WALLET_NOT_FOUND", walleterr.Code(walleterr.ErrWalletNotFound))
	})

	t.Run("non-WalletError", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "GENERAL_ERROR", walleterr.Code(errPlainCode))
	})

	t.Run("nil", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "GENERAL_ERROR", walleterr.Code(nil))
	})
}

func TestWrap_edgeCases(t *testing.T) {
	t.Parallel()

	t.Run("nil input", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, walleterr.Wrap(nil, "context"))
	})

	t.Run("non-WalletError", func(t *testing.T) {
		t.Parallel()
		wrapped := walleterr.Wrap(errPlain, "context")
		var we *walleterr.WalletError
		require.ErrorAs(t, wrapped, &we)
		assert.Equal(t, "GENERAL_ERROR", we.Code)
		assert.Equal(t, "context", we.Message)
		assert.Equal(t, errPlain, we.Cause)
	})

	t.Run("format args", func(t *testing.T) {
		t.Parallel()
		wrapped := walleterr.Wrap(walleterr.ErrWalletNotFound, "wallet %s index %d", "main", 0)
		assert.Contains(t, wrapped.Error(), "wallet main index 0")
	})

	t.Run("field preservation", func(t *testing.T) {
		t.Parallel()
		original := walleterr.WithDetails(walleterr.ErrWalletNotFound, map[string]string{"key": "val"})
		original = walleterr.WithSuggestion(original, "try this")
		wrapped := walleterr.Wrap(original, "context")

		var we *walleterr.WalletError
		require.ErrorAs(t, wrapped, &we)
		assert.Equal(t, "WALLET_NOT_FOUND", we.Code)
		assert.Equal(t, map[string]string{"key": "val"}, we.Details)
		assert.Equal(t, "try this", we.Suggestion)
		assert.Equal(t, walleterr.ExitNotFound, we.ExitCode)
	})
}

func TestWithDetails_edgeCases(t *testing.T) {
	t.Parallel()

	t.Run("nil input", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, walleterr.WithDetails(nil, map[string]string{"k": "v"}))
	})

	t.Run("non-WalletError input", func(t *testing.T) {
		t.Parallel()
		result := walleterr.WithDetails(errPlain, map[string]string{"k": "v"})
		var we *walleterr.WalletError
		require.ErrorAs(t, result, &we)
		assert.Equal(t, "GENERAL_ERROR", we.Code)
		assert.Equal(t, "plain error", we.Message)
		assert.Equal(t, map[string]string{"k": "v"}, we.Details)
		assert.Equal(t, errPlain, we.Cause)
	})
}

func TestWithSuggestion_edgeCases(t *testing.T) {
	t.Parallel()

	t.Run("nil input", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, walleterr.WithSuggestion(nil, "suggestion"))
	})

	t.Run("non-WalletError input", func(t *testing.T) {
		t.Parallel()
		result := walleterr.WithSuggestion(errPlain, "try this")
		var we *walleterr.WalletError
		require.ErrorAs(t, result, &we)
		assert.Equal(t, "GENERAL_ERROR", we.Code)
		assert.Equal(t, "plain error", we.Message)
		assert.Equal(t, "try this", we.Suggestion)
		assert.Equal(t, errPlain, we.Cause)
	})
}

func TestExitCode_nonWalletError(t *testing.T) {
	t.Parallel()
	assert.Equal(t, walleterr.ExitGeneral, walleterr.ExitCode(errPlain))
}
