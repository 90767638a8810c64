package storage

import (
	"errors"
	"io"
)

var ErrNotFound = errors.New("storage: not found")

// BlobStore keeps uploaded package archives.
type BlobStore interface {
	Put(key string, r io.Reader) (string, error) // returns canonical key
	Get(key string) (io.ReadCloser, error)
	Delete(key string) error
}
