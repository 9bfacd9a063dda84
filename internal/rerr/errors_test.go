package rerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesFields(t *testing.T) {
	err := New(CodeLocked, "already writing", nil)
	assert.Equal(t, CategoryLock, err.Category)
	assert.True(t, err.Retryable)
	assert.False(t, IsFatal(err))
}

func TestStorageIsFatal(t *testing.T) {
	err := Storage("commit failed", nil)
	assert.True(t, IsFatal(err))
	assert.False(t, IsRetryable(err))
}

func TestIsMatchesByCode(t *testing.T) {
	err := Locked("/index/path")
	require.Error(t, err)
	assert.True(t, errors.Is(err, New(CodeLocked, "", nil)))
	assert.False(t, errors.Is(err, New(CodeTimeout, "", nil)))
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := IO("a.rs", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Equal(t, "a.rs", err.Path)
}

func TestCodeHelper(t *testing.T) {
	assert.Equal(t, CodeTimeout, Code(Timeout("slow")))
	assert.Equal(t, "", Code(errors.New("plain")))
}
