// Package storage provides the key/value layer that backs the console's
// persisted session state.
package storage

import "errors"

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("key not found")

// BatchTx stages writes that are committed together when the enclosing
// Batch callback returns nil.
type BatchTx interface {
	Put(key, value string) error
	Delete(key string) error
}

// ReadTx reads from one consistent snapshot taken when the enclosing View
// began. Writes committed after that point are not visible through it.
type ReadTx interface {
	Get(key string) (string, error)
}

// Repository defines the interface for the console's local storage.
// Implementations must make every Batch atomic: either all staged writes
// become visible or none do. A View never observes part of a Batch.
type Repository interface {
	Get(key string) (string, error)
	Put(key, value string) error
	Delete(key string) error
	Keys() ([]string, error)
	Batch(fn func(tx BatchTx) error) error
	View(fn func(tx ReadTx) error) error
}
