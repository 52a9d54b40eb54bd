// Package bkerrors holds the error kinds shared by the tree model, the
// checkpoint layer and the storage engine. Callers match them with errors.Is;
// the concrete error always wraps one of these with detail about the key,
// path or identifier involved.
package bkerrors

import "errors"

var (
	// ErrInvalidArgument is returned when a path has the wrong kind for the
	// requested digest, or a checkpoint name does not match the allowed pattern.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyExists is returned when a blob or checkpoint key is already
	// occupied. Both namespaces are write-once.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound is returned when a blob, checkpoint, checksum prefix or name
	// has no match.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousMatch is returned when a checksum prefix or name matches more
	// than one checkpoint.
	ErrAmbiguousMatch = errors.New("ambiguous match")

	// ErrFormat is returned for structurally invalid serialized documents.
	ErrFormat = errors.New("format error")
)
