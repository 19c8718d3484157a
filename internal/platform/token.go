package platform

import "github.com/google/uuid"

// tokenSuffixLength is the number of characters taken from a random UUID
// when no custom suffix is supplied.
const tokenSuffixLength = 8

// NewTokenSuffix returns a random token suffix drawn from a 128-bit UUID.
func NewTokenSuffix() string {
	return uuid.New().String()[:tokenSuffixLength]
}

// Token builds a license token from a format prefix and a suffix. A
// caller-supplied suffix is used verbatim; the store's unique index on the
// token column is the backstop against collisions.
func Token(formatPrefix, customSuffix string) string {
	if customSuffix != "" {
		return formatPrefix + customSuffix
	}
	return formatPrefix + NewTokenSuffix()
}
