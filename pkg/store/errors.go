package store

import (
	"errors"
	"fmt"
)

// SchemaError indicates an on-disk store whose schema version or
// embedding dimensionality does not match this build. It is fatal for
// the open attempt; the engine never migrates silently.
type SchemaError struct {
	Path string
	Msg  string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("store: incompatible schema at %s: %s", e.Path, e.Msg)
}

// IsSchemaError reports whether err wraps a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// EncodingError indicates an insert whose vector does not match the
// store's configured dimensionality. The write is rejected and the
// store is unchanged.
type EncodingError struct {
	Table string
	Got   int
	Want  int
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("store: vector dimension mismatch on %s: got %d, want %d", e.Table, e.Got, e.Want)
}

// IsEncodingError reports whether err wraps an EncodingError.
func IsEncodingError(err error) bool {
	var ee *EncodingError
	return errors.As(err, &ee)
}
