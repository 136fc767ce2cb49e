package playbook

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	errs "github.com/ace-agents/playbook/pkg/errors"
)

// Storage persists the two engine documents. Loads return (nil, nil) when a
// document does not exist yet; saves write the whole document synchronously.
type Storage interface {
	LoadPlaybook(ctx context.Context) ([]byte, error)
	SavePlaybook(ctx context.Context, data []byte) error
	LoadGuardrails(ctx context.Context) ([]byte, error)
	SaveGuardrails(ctx context.Context, data []byte) error
	Close() error
}

// FileStorage keeps both documents as JSON files. It uses a mutex for
// in-process concurrency and file locking for cross-process safety.
type FileStorage struct {
	playbookPath  string
	guardrailPath string
	mu            sync.Mutex
}

// NewFileStorage creates a file-backed storage for the given paths.
func NewFileStorage(playbookPath, guardrailPath string) *FileStorage {
	return &FileStorage{
		playbookPath:  playbookPath,
		guardrailPath: guardrailPath,
	}
}

func (f *FileStorage) LoadPlaybook(ctx context.Context) ([]byte, error) {
	return f.load(ctx, f.playbookPath)
}

func (f *FileStorage) SavePlaybook(ctx context.Context, data []byte) error {
	return f.save(ctx, f.playbookPath, data)
}

func (f *FileStorage) LoadGuardrails(ctx context.Context) ([]byte, error) {
	return f.load(ctx, f.guardrailPath)
}

func (f *FileStorage) SaveGuardrails(ctx context.Context, data []byte) error {
	return f.save(ctx, f.guardrailPath, data)
}

// Close is a no-op for file storage.
func (f *FileStorage) Close() error {
	return nil
}

func (f *FileStorage) load(ctx context.Context, path string) ([]byte, error) {
	if err := errs.CheckContext(ctx, "load "+filepath.Base(path)); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	lockFile, err := acquireFileLock(path, lockShared)
	if err != nil {
		return nil, errs.Wrap(err, errs.StorageFailed, "failed to lock "+path)
	}
	defer releaseFileLock(lockFile)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.StorageFailed, "failed to read "+path)
	}
	return data, nil
}

// save writes atomically: temp file in the same directory, then rename.
func (f *FileStorage) save(ctx context.Context, path string, data []byte) error {
	if err := errs.CheckContext(ctx, "save "+filepath.Base(path)); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	lockFile, err := acquireFileLock(path, lockExclusive)
	if err != nil {
		return errs.Wrap(err, errs.StorageFailed, "failed to lock "+path)
	}
	defer releaseFileLock(lockFile)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errs.Wrap(err, errs.StorageFailed, "failed to create directory for "+path)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return errs.Wrap(err, errs.StorageFailed, "failed to write "+tmpPath)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(err, errs.StorageFailed, "failed to replace "+path)
	}

	return nil
}
