// Package store persists completion records and reading marks.
package store

import "errors"

// ErrRecordExists reports a second completion record for the same chapter.
var ErrRecordExists = errors.New("store: completion record already exists")
