package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches outer code", func(t *testing.T) {
		err := New(CodeNotFound, "missing")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("load: %w", New(CodeConfiguration, "unknown action"))
		assert.True(t, HasCode(err, CodeConfiguration))
	})

	t.Run("matches nested coded errors", func(t *testing.T) {
		inner := New(CodeUnavailable, "broker down")
		err := Wrap(inner, CodeInternal, "publish")
		assert.True(t, HasCode(err, CodeInternal))
		assert.True(t, HasCode(err, CodeUnavailable))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})
}
