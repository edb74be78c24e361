package document

import (
	"errors"
	"fmt"
	"strings"
)

const (
	maxTagKeyLen   = 50
	maxTagValueLen = 100
)

// ErrInvalidTag is returned when a tag does not have the key:value shape.
var ErrInvalidTag = errors.New("invalid tag")

// Tag is a key:value label attached to documents and used as a search filter.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ParseTag parses "key:value". Keys allow letters, digits, '_' and '-'
// (1-50 chars); values additionally allow '.' (1-100 chars). Both are
// lowercased.
func ParseTag(s string) (Tag, error) {
	key, value, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Tag{}, fmt.Errorf("%w %q: expected key:value", ErrInvalidTag, s)
	}

	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.ToLower(strings.TrimSpace(value))

	if len(key) == 0 || len(key) > maxTagKeyLen || !validTagChars(key, false) {
		return Tag{}, fmt.Errorf("%w %q: key must be 1-%d characters of [a-z0-9_-]", ErrInvalidTag, s, maxTagKeyLen)
	}
	if len(value) == 0 || len(value) > maxTagValueLen || !validTagChars(value, true) {
		return Tag{}, fmt.Errorf("%w %q: value must be 1-%d characters of [a-z0-9_.-]", ErrInvalidTag, s, maxTagValueLen)
	}

	return Tag{Key: key, Value: value}, nil
}

// ParseTags parses a comma separated tag list. Blank entries are skipped.
func ParseTags(s string) ([]Tag, error) {
	var tags []Tag
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		tag, err := ParseTag(part)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// ParseTagList parses individually supplied tags (e.g. repeated flags).
func ParseTagList(raw []string) ([]Tag, error) {
	var tags []Tag
	for _, r := range raw {
		parsed, err := ParseTags(r)
		if err != nil {
			return nil, err
		}
		tags = append(tags, parsed...)
	}
	return tags, nil
}

func (t Tag) String() string {
	return t.Key + ":" + t.Value
}

// TagStrings renders tags in their key:value form.
func TagStrings(tags []Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return out
}

func validTagChars(s string, allowDot bool) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
		case allowDot && r == '.':
		default:
			return false
		}
	}
	return true
}
