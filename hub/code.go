package hub

import (
	"crypto/rand"
	"fmt"
)

// Join codes are short enough to read out loud and compared
// case-insensitively. 36^4 gives ~1.7M combinations, so collisions among a
// few hundred live sessions are generation retries, not a real risk.
const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 4
)

func newCode() (string, error) {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session code: %w", err)
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b), nil
}
