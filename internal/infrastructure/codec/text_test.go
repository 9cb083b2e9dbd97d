package codec

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"coordinator/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseText(t *testing.T) {
	info, err := ParseText([]byte(`{"type":"hand_movement","x":1.5}`))
	require.NoError(t, err)
	assert.Equal(t, "hand_movement", info.Type)

	info, err = ParseText([]byte(` {"x":1}`))
	require.NoError(t, err)
	assert.Empty(t, info.Type)

	info, err = ParseText([]byte(`{"type":42}`))
	require.NoError(t, err)
	assert.Empty(t, info.Type)
}

func TestParseText_Malformed(t *testing.T) {
	for _, in := range []string{"", "hello", "[1,2]", "null", `{"type":`, "42"} {
		_, err := ParseText([]byte(in))
		require.Error(t, err, in)
		var decodeErr *DecodeError
		assert.True(t, errors.As(err, &decodeErr), in)
	}
}

func TestParsePong(t *testing.T) {
	ts, ok := ParsePong([]byte(`{"type":"pong","ping_timestamp":1700000000123.5}`))
	require.True(t, ok)
	assert.Equal(t, 1700000000123.5, ts)

	_, ok = ParsePong([]byte(`{"type":"pong"}`))
	assert.False(t, ok)
	_, ok = ParsePong([]byte(`{"type":"pong","ping_timestamp":"soon"}`))
	assert.False(t, ok)
}

func TestEncodeControl(t *testing.T) {
	data, err := EncodeControl(domain.StatusUpdate{
		Status:     domain.StatusPaired,
		ClientID:   "abc",
		Message:    "You are now paired with a robot client",
		PairedWith: &domain.PeerInfo{ID: "def", Type: "robot"},
	})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "status_update", decoded["type"])
	assert.Equal(t, "paired", decoded["status"])
	assert.Equal(t, "abc", decoded["client_id"])
	assert.Equal(t, map[string]interface{}{"id": "def", "type": "robot"}, decoded["paired_with"])

	data, err = EncodeControl(domain.Ping{Timestamp: 12.5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping","timestamp":12.5}`, string(data))
}

func TestMillis(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 250*int(time.Millisecond), time.UTC)
	assert.Equal(t, now.UnixMilli(), FromMillis(Millis(now)).UnixMilli())
}

func TestPreview(t *testing.T) {
	long := `{"type":"walk","note":"` + strings.Repeat("a", 100) + `"}`
	content, data := Preview(domain.Message{Kind: domain.KindText, Data: []byte(long)}, 20)
	assert.Nil(t, data)
	assert.Len(t, content, 20)
	assert.True(t, strings.HasSuffix(content, "..."))

	content, _ = Preview(domain.Message{Kind: domain.KindText, Data: []byte("a\x00b")}, 0)
	assert.Equal(t, "ab", content)

	raw := []byte{1, 2, 3}
	content, data = Preview(domain.Message{Kind: domain.KindBytes, Data: raw}, 20)
	assert.Empty(t, content)
	assert.Equal(t, raw, data)
}
