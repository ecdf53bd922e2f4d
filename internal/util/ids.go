package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	idLength   = 21
	idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// NewID returns a random 21 character identifier. The alphabet leaves out
// '_' so ids can never contain the edge key separator.
func NewID() string {
	return gonanoid.MustGenerate(idAlphabet, idLength)
}

// IsID reports whether s looks like an id produced by NewID.
func IsID(s string) bool {
	if len(s) != idLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}
