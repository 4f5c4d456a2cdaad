package transport

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEReaderParsesEvents(t *testing.T) {
	raw := ": keep-alive\r\n" +
		"data: {\"type\":\"start\"}\r\n\r\n" +
		"event: message\n" +
		"id: 7\n" +
		"data: line-1\n" +
		"data:line-2\n\n" +
		"\n\n" +
		"data: tail"

	r := NewSSEReader(strings.NewReader(raw))

	event, data, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Empty(t, event)
	assert.Equal(t, `{"type":"start"}`, string(data))

	event, data, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "message", event)
	assert.Equal(t, "line-1\nline-2", string(data))

	_, data, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "tail", string(data))

	_, _, err = r.ReadEvent()
	assert.ErrorIs(t, err, io.EOF)
}
