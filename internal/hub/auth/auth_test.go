package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("secret", "secret"))
	assert.False(t, ConstantTimeEqual("secret", "wrong"))
	assert.False(t, ConstantTimeEqual("secret", "secre"))
	assert.False(t, ConstantTimeEqual("", "secret"))
	assert.True(t, ConstantTimeEqual("", ""))
}
