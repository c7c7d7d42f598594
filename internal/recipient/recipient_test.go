package recipient

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want Recipient
		ok   bool
	}{
		{name: "plain", raw: "5730000000001", want: "5730000000001", ok: true},
		{name: "formatted", raw: "+57 (300) 000-0001", want: "573000000001", ok: true},
		{name: "ten digits", raw: "3001234567", want: "3001234567", ok: true},
		{name: "fifteen digits", raw: "123456789012345", want: "123456789012345", ok: true},
		{name: "nine digits", raw: "300123456", ok: false},
		{name: "sixteen digits", raw: "1234567890123456", ok: false},
		{name: "letters only", raw: "abc", ok: false},
		{name: "empty", raw: "", ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tt.raw)
			if !tt.ok {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeMatchesDigitLength(t *testing.T) {
	t.Parallel()
	for n := 0; n <= 20; n++ {
		raw := "+" + strings.Repeat("7", n) + "-x"
		_, err := Normalize(raw)
		assert.Equal(t, n >= MinDigits && n <= MaxDigits, err == nil, "digits=%d", n)
	}
}

func TestNormalizeAllIsAllOrNothing(t *testing.T) {
	t.Parallel()
	got, err := NormalizeAll([]string{"5730000000001", "12", "5730000000002", "x"})
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Contains(t, err.Error(), "12, x")

	got, err = NormalizeAll([]string{"5730000000001", "+57 300 000 0002"})
	require.NoError(t, err)
	assert.Equal(t, []Recipient{"5730000000001", "573000000002"}, got)
}

func TestSplitAndPretty(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"573001112233", "573004445566"}, Split(" 573001112233, ,573004445566 "))
	assert.Equal(t, "57 300 111 2233", Pretty("573001112233"))
	assert.Equal(t, "3001112233", Pretty("3001112233"))
}
