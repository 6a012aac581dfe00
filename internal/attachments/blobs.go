package attachments

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore keeps attachment content on the local filesystem, one directory
// per event.
type BlobStore struct {
	basePath string
}

// NewBlobStore creates the base directory if it does not exist.
func NewBlobStore(basePath string) (*BlobStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}
	return &BlobStore{basePath: basePath}, nil
}

// Put writes content under {base}/{eventID}/{providerID}-{name} and returns the path.
func (b *BlobStore) Put(eventID, providerID, name string, content []byte) (string, error) {
	dir := filepath.Join(b.basePath, sanitize(eventID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create event directory: %w", err)
	}

	fileName := sanitize(name)
	if providerID != "" {
		fileName = shortID(providerID) + "-" + fileName
	}
	path := filepath.Join(dir, fileName)

	tmp := path + ".part"
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write attachment: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to move attachment into place: %w", err)
	}
	return path, nil
}

// sanitize keeps a file name inside its directory.
func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return -1
		case strings.ContainsRune(`/:*?"<>|`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "attachment"
	}
	return name
}

func shortID(id string) string {
	id = sanitize(id)
	if len(id) > 16 {
		return id[len(id)-16:]
	}
	return id
}
