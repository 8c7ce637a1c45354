// Package storage is the object-storage abstraction split files move
// through: three backends (file, ram, s3) behind one interface, plus a
// bounded byte-slice cache (spec.md §4.10).
package storage

import (
	"context"
	"io"

	"github.com/wessley-search/splitcore/internal/model"
)

// Payload is a byte stream of known length, handed to Put. Reader is read
// exactly once, in order.
type Payload struct {
	Reader io.Reader
	Size   int64
}

// Storage is the contract every backend implements (spec.md §4.10).
type Storage interface {
	Put(ctx context.Context, path string, payload Payload) error
	GetSlice(ctx context.Context, path string, r model.ByteRange) ([]byte, error)
	GetAll(ctx context.Context, path string) ([]byte, error)
	CopyToFile(ctx context.Context, path, dest string) error
	Delete(ctx context.Context, path string) error
	FileNumBytes(ctx context.Context, path string) (int64, error)
	CheckConnectivity(ctx context.Context) error
}

// Open resolves uri's scheme to a concrete backend (spec.md §4.10/§6):
// file:///..., ram:///..., s3://bucket/prefix.
func Open(ctx context.Context, uri string) (Storage, error) {
	scheme, rest := splitScheme(uri)
	switch scheme {
	case "file":
		return NewFileStorage(rest), nil
	case "ram":
		return NewRAMStorage(), nil
	case "s3":
		return NewS3Storage(ctx, rest)
	default:
		return nil, model.NewError(model.KindConfig, "storage.Open", errUnsupportedScheme(scheme))
	}
}

type errUnsupportedScheme string

func (e errUnsupportedScheme) Error() string { return "storage: unsupported scheme " + string(e) }

func splitScheme(uri string) (scheme, rest string) {
	for i := 0; i < len(uri)-2; i++ {
		if uri[i] == ':' && uri[i+1] == '/' && uri[i+2] == '/' {
			return uri[:i], uri[i+3:]
		}
	}
	return "", uri
}
