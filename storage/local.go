package storage

import (
	"os"
)

// Local implements Backend on top of the OS filesystem.
type Local struct{}

// NewLocal creates a local filesystem backend.
func NewLocal() Local { return Local{} }

var _ Backend = Local{}

func (Local) Open(path string) (File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	return f, nil
}

func (Local) Create(path string) (File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	return f, nil
}

func (Local) Stat(path string) (Stat, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Stat{}, err
	}

	return Stat{Size: fi.Size()}, nil
}

func (Local) Delete(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}

	return err
}

func (Local) Rename(from, to string) error {
	return os.Rename(from, to)
}

func (Local) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names, nil
}

func (Local) CreateDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
