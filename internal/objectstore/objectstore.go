// Package objectstore adapts blob backends to the put/delete capability the relay
// needs. Deleting a key that does not exist is not an error for any backend.
package objectstore

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
)

// ErrEmptyKey is returned when an operation is attempted without a key.
var ErrEmptyKey = errors.New("object key is required")

// Store is the object store capability consumed by the lifecycle and upload services.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// URLBuilder derives public media URLs from object keys.
type URLBuilder struct {
	base string
}

// NewURLBuilder returns a builder that prefixes keys with base.
func NewURLBuilder(base string) URLBuilder {
	return URLBuilder{base: strings.TrimRight(base, "/")}
}

// URL returns the public URL for key. The mapping is deterministic.
func (b URLBuilder) URL(key string) string {
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return b.base + "/" + strings.Join(segments, "/")
}
