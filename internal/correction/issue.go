package correction

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// Issue is a normalized descriptor of a single problem reported by a
// checker. Only fields that identify the problem itself belong here;
// attempt-specific metadata (timestamps, durations, attempt numbers) must
// stay out so two attempts hitting the same problem fingerprint identically.
type Issue struct {
	Severity string `json:"severity"` // "error" or "warning"
	Code     string `json:"code,omitempty"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Message  string `json:"message"`
}

// key returns a canonical representation of the issue for sorting and
// hashing. Message whitespace is collapsed so cosmetic reformatting between
// tool runs does not defeat stagnation detection.
func (i Issue) key() string {
	msg := strings.Join(strings.Fields(i.Message), " ")
	return fmt.Sprintf("%s|%s|%s|%d|%s", i.Severity, i.Code, i.File, i.Line, msg)
}

// Normalize returns a sorted copy of issues with duplicates removed.
func Normalize(issues []Issue) []Issue {
	seen := make(map[string]bool, len(issues))
	out := make([]Issue, 0, len(issues))
	for _, is := range issues {
		k := is.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, is)
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].key() < out[b].key()
	})
	return out
}

// Fingerprint computes an order-independent digest of an issue set.
// Comparing fingerprints is set equality over normalized descriptors, not
// list equality, so reordering or duplicated findings between runs do not
// produce a false "progress" signal.
func Fingerprint(issues []Issue) string {
	norm := Normalize(issues)
	h := blake3.New()
	for _, is := range norm {
		h.Write([]byte(is.key()))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Count returns the number of errors and warnings in an issue set.
func Count(issues []Issue) (errors, warnings int) {
	for _, is := range issues {
		if is.Severity == "warning" {
			warnings++
		} else {
			errors++
		}
	}
	return errors, warnings
}
