package codec

import (
	"bytes"
	"encoding/json"
	"time"

	"coordinator/internal/core/domain"
	"coordinator/pkg/utils"
)

// TextInfo is what the broker reads out of a text message: only the reserved
// type tag, used for logging and for the few types it handles itself.
type TextInfo struct {
	Type string
}

type envelope struct {
	Type json.RawMessage `json:"type"`
}

// ParseText checks that data is a JSON object and extracts its type tag.
// A missing or non-string tag yields an empty Type, not an error.
func ParseText(data []byte) (TextInfo, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return TextInfo{}, &DecodeError{Err: ErrNotObject}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return TextInfo{}, &DecodeError{Err: err}
	}

	var info TextInfo
	if len(env.Type) > 0 {
		_ = json.Unmarshal(env.Type, &info.Type)
	}
	return info, nil
}

// ParsePong extracts the echoed ping timestamp (milliseconds since epoch).
func ParsePong(data []byte) (float64, bool) {
	var pong struct {
		PingTimestamp float64 `json:"ping_timestamp"`
	}
	if err := json.Unmarshal(data, &pong); err != nil || pong.PingTimestamp <= 0 {
		return 0, false
	}
	return pong.PingTimestamp, true
}

// EncodeControl serializes a broker-originated control message.
func EncodeControl(msg domain.ControlMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// Millis converts t to fractional milliseconds since the Unix epoch, the unit
// of ping timestamps.
func Millis(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Millisecond)
}

// FromMillis is the inverse of Millis.
func FromMillis(ms float64) time.Time {
	return time.Unix(0, int64(ms*float64(time.Millisecond)))
}

// Preview builds the log entry content for a message: a sanitized,
// truncated string for text and the raw bytes for binary frames.
func Preview(msg domain.Message, maxLen int) (content string, data []byte) {
	if msg.Kind == domain.KindBytes {
		return "", msg.Data
	}
	s := utils.SanitizeString(string(msg.Data))
	if maxLen > 0 {
		s = utils.TruncateString(s, maxLen)
	}
	return s, nil
}
