package storage

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/wessley-search/splitcore/internal/model"
)

// RAMStorage is the ram:///... backend: an in-memory object map used by
// tests and the Vec/Void source demos (spec.md §4.10).
type RAMStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewRAMStorage builds an empty in-memory store.
func NewRAMStorage() *RAMStorage {
	return &RAMStorage{objects: make(map[string][]byte)}
}

var _ Storage = (*RAMStorage)(nil)

func (s *RAMStorage) Put(ctx context.Context, path string, payload Payload) error {
	b, err := io.ReadAll(payload.Reader)
	if err != nil {
		return model.NewError(model.KindIO, "ram.Put", err)
	}
	s.mu.Lock()
	s.objects[path] = b
	s.mu.Unlock()
	return nil
}

func (s *RAMStorage) GetSlice(ctx context.Context, path string, r model.ByteRange) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.objects[path]
	if !ok {
		return nil, model.NewError(model.KindNotFound, "ram.GetSlice", model.ErrObjectNotFound)
	}
	if r.Start < 0 || r.End > int64(len(b)) || r.Start > r.End {
		return nil, model.NewError(model.KindIO, "ram.GetSlice", io.ErrUnexpectedEOF)
	}
	out := make([]byte, r.Len())
	copy(out, b[r.Start:r.End])
	return out, nil
}

func (s *RAMStorage) GetAll(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.objects[path]
	if !ok {
		return nil, model.NewError(model.KindNotFound, "ram.GetAll", model.ErrObjectNotFound)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (s *RAMStorage) CopyToFile(ctx context.Context, path, dest string) error {
	b, err := s.GetAll(ctx, path)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, b, 0o644)
}

func (s *RAMStorage) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	delete(s.objects, path)
	s.mu.Unlock()
	return nil
}

func (s *RAMStorage) FileNumBytes(ctx context.Context, path string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.objects[path]
	if !ok {
		return 0, model.NewError(model.KindNotFound, "ram.FileNumBytes", model.ErrObjectNotFound)
	}
	return int64(len(b)), nil
}

func (s *RAMStorage) CheckConnectivity(ctx context.Context) error { return nil }
