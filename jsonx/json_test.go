package jsonx

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type status struct {
	Height uint64 `json:"height"`
	Tip    string `json:"tip"`
}

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, status{Height: 9, Tip: "ab"}))

	var got status
	require.NoError(t, ReadMessage(&buf, 1024, &got))
	assert.Equal(t, status{Height: 9, Tip: "ab"}, got)
}

func TestReadMessageLimit(t *testing.T) {
	payload := `{"height":1,"tip":"` + strings.Repeat("x", 200) + `"}`

	var got status
	err := ReadMessage(strings.NewReader(payload), 64, &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 64 bytes")
}

func TestReadMessageGarbage(t *testing.T) {
	var got status
	err := ReadMessage(strings.NewReader("{not json"), 1024, &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode message")
}
