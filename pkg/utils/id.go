package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateClientID returns a random UUID string for a new connection.
func GenerateClientID() string {
	return uuid.NewString()
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	timestamp := time.Now().UnixNano()
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", timestamp, hex.EncodeToString(b))
}

// GenerateSessionID generates a unique dashboard session ID
func GenerateSessionID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "session_" + hex.EncodeToString(b)
}
