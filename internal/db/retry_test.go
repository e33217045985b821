package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithRetries_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := WithRetries(func() error {
		calls++
		return nil
	}, 3, func(error) bool { return true })
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetries_RetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := WithRetries(func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, 3, func(error) bool { return true })
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetries_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	fatal := errors.New("fatal")
	err := WithRetries(func() error {
		calls++
		return fatal
	}, 3, func(error) bool { return false })
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestWithRetries_ExhaustsRetries(t *testing.T) {
	calls := 0
	transient := errors.New("transient")
	err := WithRetries(func() error {
		calls++
		return transient
	}, 2, func(error) bool { return true })
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
}
