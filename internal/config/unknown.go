package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys are the valid dotted keys in the config file, matching the
// toml tags on Config and its sections.
var knownKeys = map[string]bool{
	"backend.base_url":       true,
	"backend.upload_timeout": true,
	"polling.interval":       true,
	"polling.max_polls":      true,
	"retry.max_attempts":     true,
	"watch.dir":              true,
	"watch.debounce":         true,
	"watch.extensions":       true,
	"logging.log_level":      true,
	"logging.log_format":     true,
	"logging.log_file":       true,
}

// knownKeysList is the sorted slice form of knownKeys for Levenshtein
// matching. Sorted for deterministic suggestions when two candidates have
// the same edit distance.
var knownKeysList = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// knownSections are the valid table names, so a bare unknown section gets
// its own error instead of one per key.
var knownSections = map[string]bool{
	"backend": true, "polling": true, "retry": true, "watch": true, "logging": true,
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	seenSections := map[string]bool{}

	for _, key := range md.Undecoded() {
		keyStr := key.String()

		section := strings.SplitN(keyStr, ".", 2)[0]
		if !knownSections[section] {
			if !seenSections[section] {
				seenSections[section] = true

				errs = append(errs, buildKeyError(section, "unknown config section"))
			}

			continue
		}

		errs = append(errs, buildKeyError(keyStr, "unknown config key"))
	}

	return errors.Join(errs...)
}

// buildKeyError creates a descriptive error for an unknown key, optionally
// suggesting the closest known one.
func buildKeyError(key, kind string) error {
	suggestion := closestMatch(key, knownKeysList)
	if suggestion != "" {
		return fmt.Errorf("%s %q — did you mean %q?", kind, key, suggestion)
	}

	return fmt.Errorf("%s %q", kind, key)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
