package cartridge

import (
	"errors"
	"fmt"
)

// ErrConflict is returned by a safe-mode import when the target already
// has a store.
var ErrConflict = errors.New("cartridge: target store already exists")

// CorruptArchiveError means an archive failed validation before any
// write: a missing or invalid manifest, a missing component, or a
// checksum mismatch.
type CorruptArchiveError struct {
	Component string
	Msg       string
}

func (e *CorruptArchiveError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("cartridge: corrupt archive: %s: %s", e.Component, e.Msg)
	}
	return fmt.Sprintf("cartridge: corrupt archive: %s", e.Msg)
}

// IsCorruptArchive reports whether err is a CorruptArchiveError.
func IsCorruptArchive(err error) bool {
	var ce *CorruptArchiveError
	return errors.As(err, &ce)
}
