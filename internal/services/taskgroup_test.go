package services

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunAllCollectsEveryResult(t *testing.T) {
	boom := errors.New("boom")
	var ran int32

	errs := RunAll([]func() error{
		func() error { atomic.AddInt32(&ran, 1); return nil },
		func() error { atomic.AddInt32(&ran, 1); return boom },
		func() error { atomic.AddInt32(&ran, 1); return nil },
	})

	assert.Equal(t, int32(3), ran, "a failing task must not stop its siblings")
	assert.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], boom)
	assert.NoError(t, errs[2])

	assert.ErrorIs(t, FirstError(errs), boom)
	assert.Equal(t, 1, CountErrors(errs))
}

func TestRunAllEmpty(t *testing.T) {
	errs := RunAll(nil)
	assert.Empty(t, errs)
	assert.NoError(t, FirstError(errs))
	assert.Zero(t, CountErrors(errs))
}
