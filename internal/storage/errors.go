package storage

import "errors"

// Store errors. Operations wrap one of these with the underlying cause, so
// callers match with errors.Is.
var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrQuery              = errors.New("query failed")
	ErrWrite              = errors.New("write failed")
	ErrDelete             = errors.New("delete failed")
	ErrNotFound           = errors.New("record not found")
)
