package store

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID reports a graph that violates ID uniqueness during a
	// strict load.
	ErrDuplicateID = errors.New("duplicate entry id")
	// ErrBadStateLine reports an unparseable or unsupported state record.
	ErrBadStateLine = errors.New("bad state line")
)
