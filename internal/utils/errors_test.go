package utils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	assert.Equal(t, "price must be positive", NewValidationError("price must be positive").Error())
	assert.Equal(t, "symbol: is required", NewFieldError("symbol", "is required").Error())
	assert.Equal(t, "size 0 out of range", NewValidationErrorf("size %d out of range", 0).Error())
}

func TestIsValidationError(t *testing.T) {
	err := fmt.Errorf("decode request: %w", NewFieldError("side", "unknown"))
	assert.True(t, IsValidationError(err))
	assert.False(t, IsValidationError(fmt.Errorf("plain")))
	assert.False(t, IsValidationError(nil))
}
