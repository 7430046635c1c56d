// Package validation provides input validation for CLI arguments.
// This package has no dependencies to avoid import cycles.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// sessionPrefixRegex matches hex UUID prefixes with optional dashes.
var sessionPrefixRegex = regexp.MustCompile(`^[0-9a-fA-F-]+$`)

// commitPrefixRegex matches git SHA prefixes.
var commitPrefixRegex = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// tagLabelRegex matches tag labels: lowercase alphanumerics with separators.
var tagLabelRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._/-]*$`)

const maxTagLabelLen = 64

// SessionPrefix validates a session id or id prefix argument.
func SessionPrefix(prefix string) error {
	if prefix == "" {
		return errors.New("session id cannot be empty")
	}
	if !sessionPrefixRegex.MatchString(prefix) {
		return fmt.Errorf("invalid session id %q: expected a UUID or UUID prefix", prefix)
	}
	return nil
}

// CommitPrefix validates a commit SHA or SHA prefix argument. The store
// requires at least 4 characters to keep prefix matches meaningful.
func CommitPrefix(prefix string) error {
	if len(prefix) < 4 {
		return fmt.Errorf("commit prefix %q too short (need at least 4 characters)", prefix)
	}
	if len(prefix) > 40 {
		return fmt.Errorf("commit prefix %q longer than a full SHA", prefix)
	}
	if !commitPrefixRegex.MatchString(prefix) {
		return fmt.Errorf("invalid commit prefix %q: expected hex characters", prefix)
	}
	return nil
}

// TagLabel validates a tag label.
func TagLabel(label string) error {
	if label == "" {
		return errors.New("tag label cannot be empty")
	}
	if len(label) > maxTagLabelLen {
		return fmt.Errorf("tag label too long (max %d characters)", maxTagLabelLen)
	}
	if strings.ToLower(label) != label {
		return fmt.Errorf("invalid tag label %q: use lowercase", label)
	}
	if !tagLabelRegex.MatchString(label) {
		return fmt.Errorf("invalid tag label %q: letters, digits and ._/- only", label)
	}
	return nil
}
