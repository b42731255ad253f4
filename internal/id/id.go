// Package id generates prefixed identifiers for sessions and groups.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes used by roadwatch.
const (
	PrefixSession = "watch"
	PrefixGroup   = "group"
)

// size keeps ids short enough to read in log lines.
const size = 12

// Generate creates a prefixed id such as "watch-V1StGXR8_Z5j".
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New(size)
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// MustGenerate is like Generate but panics if the system has no entropy.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}
