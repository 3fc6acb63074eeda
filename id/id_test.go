package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeneratesDistinctNonNilIDs(t *testing.T) {
	a := New()
	b := New()

	assert.False(t, a.IsNil())
	assert.False(t, b.IsNil())
	assert.NotEqual(t, a, b)
}

func TestStringParseRoundTrip(t *testing.T) {
	want := New()

	got, err := Parse(want.String())

	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestNilIsNil(t *testing.T) {
	assert.True(t, Nil.IsNil())
	var zero ID
	assert.True(t, zero.IsNil())
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("not-hex!!")
	assert.Error(t, err)
}

func TestBytesMatchesUnderlyingArray(t *testing.T) {
	v := New()
	assert.Equal(t, v[:], v.Bytes())
}
