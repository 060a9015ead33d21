package invalidation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/erboard/erboard/pkg/cache"
)

// MaxPatternLength bounds a pattern or key.
const MaxPatternLength = 256

// Validation errors.
var (
	ErrEmptyPattern   = errors.New("pattern cannot be empty")
	ErrPatternTooLong = fmt.Errorf("pattern longer than %d bytes", MaxPatternLength)
	ErrInnerWildcard  = errors.New(`only a trailing "*" is supported`)
	ErrUnknownFamily  = errors.New("unknown cache family")
)

// IsWildcard reports whether pattern selects by prefix.
func IsWildcard(pattern string) bool {
	return strings.HasSuffix(pattern, "*")
}

// ValidatePattern checks that pattern is an exact key or a prefix ending in a
// single "*":
//
//	"bed-json:서울:"   exact key
//	"bed-json:서울*"   every bed-info entry for 서울
//	"*"               the whole family
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return ErrEmptyPattern
	}
	if len(pattern) > MaxPatternLength {
		return ErrPatternTooLong
	}
	if strings.Contains(strings.TrimSuffix(pattern, "*"), "*") {
		return ErrInnerWildcard
	}
	return nil
}

// ValidateFamily checks family against the known cache families.
func ValidateFamily(family string) error {
	if _, ok := cache.DefaultFamilies()[family]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
	return nil
}

// deduplicateKeys drops blanks and duplicates, preserving order.
func deduplicateKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	result := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, key)
	}
	return result
}

// describe renders what an invalidation selected, for the audit trail.
func describe(family string, keys []string, pattern string, all bool) string {
	switch {
	case all:
		return "*:*"
	case pattern != "":
		return family + ":" + pattern
	case len(keys) == 0:
		return family + ":*"
	case len(keys) == 1:
		return family + ":" + keys[0]
	default:
		return fmt.Sprintf("%s:[%d keys]", family, len(keys))
	}
}
