package telegram

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedbot/internal/recipient"
	"schedbot/internal/transport"
	"schedbot/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		in    string
		limit int
		want  []string
	}{
		{"short", "hello", 10, []string{"hello"}},
		{"hard cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"newline preferred", "aaaa\nbbbbbb", 8, []string{"aaaa", "bbbbbb"}},
		{"multibyte", strings.Repeat("é", 5), 2, []string{"éé", "éé", "é"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SplitText(tt.in, tt.limit), tt.name)
	}
}

func TestChatID(t *testing.T) {
	t.Parallel()
	id, err := ChatID(recipient.Recipient("573001112233"))
	require.NoError(t, err)
	assert.Equal(t, int64(573001112233), id)

	_, err = ChatID(recipient.Recipient(""))
	assert.ErrorIs(t, err, transport.ErrBadAddress)
}

func TestClientNotReady(t *testing.T) {
	t.Parallel()
	_, err := New("acme", Config{}, logx.Nop())
	require.Error(t, err)

	c, err := New("acme", Config{Token: "123:abc"}, logx.Nop())
	require.NoError(t, err)
	assert.ErrorIs(t, c.Send(context.Background(), "573001112233", "hi"), transport.ErrNotReady)
	_, ok := c.Self()
	assert.False(t, ok)
	assert.NoError(t, c.Stop(context.Background()))

	var _ transport.Client = c
	var _ transport.CommandMenuUpdater = c
}
