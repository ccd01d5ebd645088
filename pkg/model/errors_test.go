package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGatewayErrorIs(t *testing.T) {
	err := NewError(KindDuplicate, "message_id already present", nil)
	assert.True(t, errors.Is(err, ErrDuplicate))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestGatewayErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(KindTransient, "publish failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsKind(err, KindTransient))
	assert.False(t, IsKind(err, KindFatal))
}

func TestIsKindNonGatewayError(t *testing.T) {
	assert.False(t, IsKind(errors.New("plain"), KindValidation))
}
