package memstore

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptySubject is returned when a subject is empty or whitespace.
var ErrEmptySubject = errors.New("memstore: subject is empty")

// Conventional top-level namespaces. This is a soft contract: nothing
// rejects other prefixes, but these are what the agent layers use.
const (
	NamespaceUser    = "user"
	NamespaceProject = "project"
	NamespaceSelf    = "self"
	NamespaceSession = "session"
)

// Subject is a validated, dot-delimited hierarchical path such as
// "user.preference.language". It is never empty.
type Subject struct {
	raw string
}

// ParseSubject validates raw into a Subject. Leading and trailing
// whitespace is trimmed; empty segments (leading, trailing or doubled
// dots) are rejected.
func ParseSubject(raw string) (Subject, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Subject{}, ErrEmptySubject
	}
	for _, seg := range strings.Split(raw, ".") {
		if strings.TrimSpace(seg) == "" {
			return Subject{}, fmt.Errorf("memstore: subject %q has an empty segment", raw)
		}
	}
	return Subject{raw: raw}, nil
}

// MustSubject is ParseSubject for trusted literals; it panics on error.
func MustSubject(raw string) Subject {
	s, err := ParseSubject(raw)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Subject) String() string {
	return s.raw
}

// TopLevel returns the first path segment, the subject's namespace.
func (s Subject) TopLevel() string {
	if i := strings.IndexByte(s.raw, '.'); i >= 0 {
		return s.raw[:i]
	}
	return s.raw
}

// IsZero reports whether s is the zero value rather than a parsed subject.
func (s Subject) IsZero() bool {
	return s.raw == ""
}
