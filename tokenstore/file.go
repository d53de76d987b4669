package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// fileRecord is the persisted form of one profile's tokens.
type fileRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// fileContents is the layout of the token file; one record per profile.
type fileContents struct {
	Profiles map[string]*fileRecord `json:"profiles"`
}

// FileBackend stores tokens in a JSON file shared between profiles.
// Writes are atomic (temp file + rename) and serialised across processes
// with a lock file.
type FileBackend struct {
	path    string
	profile string
}

// NewFileBackend returns a FileBackend for profile in the file at path.
func NewFileBackend(path, profile string) *FileBackend {
	if profile == "" {
		profile = "default"
	}
	return &FileBackend{path: path, profile: profile}
}

// Path returns the token file location.
func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Load(_ context.Context) (Pair, error) {
	contents, err := b.read()
	if err != nil {
		return Pair{}, err
	}

	rec, ok := contents.Profiles[b.profile]
	if !ok || rec == nil {
		return Pair{}, fmt.Errorf("no tokens for profile %s: %w", b.profile, ErrNotFound)
	}
	return Pair{AccessToken: rec.AccessToken, RefreshToken: rec.RefreshToken}, nil
}

func (b *FileBackend) Save(ctx context.Context, pair Pair) error {
	return b.update(ctx, func(c *fileContents) {
		c.Profiles[b.profile] = &fileRecord{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			UpdatedAt:    time.Now().UTC(),
		}
	})
}

func (b *FileBackend) Delete(ctx context.Context) error {
	return b.update(ctx, func(c *fileContents) {
		delete(c.Profiles, b.profile)
	})
}

func (b *FileBackend) read() (*fileContents, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("token file %s: %w", b.path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	if contents.Profiles == nil {
		contents.Profiles = make(map[string]*fileRecord)
	}
	return &contents, nil
}

// update applies fn to the current file contents under the file lock and
// writes the result back atomically. Records of other profiles are kept.
func (b *FileBackend) update(ctx context.Context, fn func(*fileContents)) error {
	lock, err := acquireFileLock(ctx, b.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.release()

	contents, err := b.read()
	if err != nil {
		// Missing or unreadable files are replaced.
		contents = &fileContents{Profiles: make(map[string]*fileRecord)}
	}

	fn(contents)

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return err
	}

	tempFile := b.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, b.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
