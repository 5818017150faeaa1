package auth

import (
	"crypto/rand"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	KeyMarker    = "dmcp_"
	SecretLength = 32
	KeyLength    = len(KeyMarker) + SecretLength
	PrefixLength = 12
)

const base62 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// GeneratedKey is a fresh credential. Raw is shown once and never stored.
type GeneratedKey struct {
	Raw    string
	Prefix string
	Hash   string
}

// GenerateKey draws a random key and hashes it with the given bcrypt cost.
func GenerateKey(cost int) (*GeneratedKey, error) {
	secret, err := randomBase62(SecretLength)
	if err != nil {
		return nil, err
	}
	raw := KeyMarker + secret
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), cost)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}
	return &GeneratedKey{Raw: raw, Prefix: raw[:PrefixLength], Hash: string(hash)}, nil
}

// ParseKey checks the key shape and returns its lookup prefix.
func ParseKey(raw string) (string, bool) {
	if len(raw) != KeyLength || !strings.HasPrefix(raw, KeyMarker) {
		return "", false
	}
	for i := len(KeyMarker); i < len(raw); i++ {
		if strings.IndexByte(base62, raw[i]) < 0 {
			return "", false
		}
	}
	return raw[:PrefixLength], true
}

// randomBase62 uses rejection sampling so every symbol is equally likely.
func randomBase62(n int) (string, error) {
	const limit = 256 - 256%len(base62)
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, base62[int(b)%len(base62)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
