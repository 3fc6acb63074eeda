package gcserrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewErrorCarriesKindAndReason(t *testing.T) {
	err := New(NotFound, "no such actor")

	assert.Equal(t, NotFound, err.Kind)
	assert.Contains(t, err.Error(), "not_found")
	assert.Contains(t, err.Error(), "no such actor")
}

func TestWrapNilCauseBehavesLikeNew(t *testing.T) {
	err := Wrap(Invalid, nil, "bad input")

	assert.Equal(t, Invalid, err.Kind)
	assert.Nil(t, err.Cause())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")

	err := Wrap(Transient, cause, "dial failed")

	assert.NotNil(t, err.Cause())
	assert.Contains(t, err.Error(), "dial failed")
}

func TestIsMatchesKind(t *testing.T) {
	err := New(Exhausted, "restart budget exceeded")

	assert.True(t, Is(err, Exhausted))
	assert.False(t, Is(err, Fatal))
}

func TestIsRejectsPlainErrors(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), Invalid))
}

func TestKindStringCoversEveryValue(t *testing.T) {
	kinds := map[Kind]string{
		Transient: "transient",
		NotFound:  "not_found",
		Invalid:   "invalid",
		Exhausted: "exhausted",
		Fatal:     "fatal",
	}
	for k, want := range kinds {
		assert.Equal(t, want, k.String())
	}
	assert.Equal(t, "unknown", Kind(99).String())
}
