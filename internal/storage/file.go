package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/wessley-search/splitcore/internal/model"
)

// FileStorage is the file:///... backend: every path is joined under root
// and opened/read with the standard os + io.SectionReader primitives.
type FileStorage struct {
	root string
}

// NewFileStorage builds a FileStorage rooted at root (the part of the URI
// after file://).
func NewFileStorage(root string) *FileStorage {
	return &FileStorage{root: root}
}

var _ Storage = (*FileStorage)(nil)

func (s *FileStorage) resolve(path string) string {
	return filepath.Join(s.root, path)
}

func (s *FileStorage) Put(ctx context.Context, path string, payload Payload) error {
	full := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return model.NewError(model.KindIO, "file.Put", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return model.NewError(model.KindIO, "file.Put", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, payload.Reader); err != nil {
		return model.NewError(model.KindIO, "file.Put", err)
	}
	return nil
}

func (s *FileStorage) GetSlice(ctx context.Context, path string, r model.ByteRange) ([]byte, error) {
	f, err := os.Open(s.resolve(path))
	if err != nil {
		return nil, toStorageErr("file.GetSlice", err)
	}
	defer f.Close()
	sr := io.NewSectionReader(f, r.Start, r.Len())
	buf := make([]byte, r.Len())
	if _, err := io.ReadFull(sr, buf); err != nil {
		return nil, model.NewError(model.KindIO, "file.GetSlice", err)
	}
	return buf, nil
}

func (s *FileStorage) GetAll(ctx context.Context, path string) ([]byte, error) {
	b, err := os.ReadFile(s.resolve(path))
	if err != nil {
		return nil, toStorageErr("file.GetAll", err)
	}
	return b, nil
}

func (s *FileStorage) CopyToFile(ctx context.Context, path, dest string) error {
	src, err := os.Open(s.resolve(path))
	if err != nil {
		return toStorageErr("file.CopyToFile", err)
	}
	defer src.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return model.NewError(model.KindIO, "file.CopyToFile", err)
	}
	dst, err := os.Create(dest)
	if err != nil {
		return model.NewError(model.KindIO, "file.CopyToFile", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return model.NewError(model.KindIO, "file.CopyToFile", err)
	}
	return nil
}

func (s *FileStorage) Delete(ctx context.Context, path string) error {
	if err := os.Remove(s.resolve(path)); err != nil && !os.IsNotExist(err) {
		return model.NewError(model.KindIO, "file.Delete", err)
	}
	return nil
}

func (s *FileStorage) FileNumBytes(ctx context.Context, path string) (int64, error) {
	info, err := os.Stat(s.resolve(path))
	if err != nil {
		return 0, toStorageErr("file.FileNumBytes", err)
	}
	return info.Size(), nil
}

func (s *FileStorage) CheckConnectivity(ctx context.Context) error {
	if _, err := os.Stat(s.root); err != nil {
		return model.NewError(model.KindIO, "file.CheckConnectivity", err)
	}
	return nil
}

func toStorageErr(op string, err error) error {
	if os.IsNotExist(err) {
		return model.NewError(model.KindNotFound, op, err)
	}
	return model.NewError(model.KindIO, op, err)
}
