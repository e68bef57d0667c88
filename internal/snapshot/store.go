// Package snapshot stores spot crops on disk under content-addressed names.
package snapshot

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"parking-service/internal/domain/parking"
)

// Fingerprint is the hex blake3 digest of parts written in order.
func Fingerprint(parts ...[]byte) string {
	if len(parts) == 1 {
		sum := blake3.Sum256(parts[0])
		return hex.EncodeToString(sum[:])
	}
	h := blake3.New()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save writes a JPEG under <dir>/<camera>_<spot>/<blake3>.jpg and returns
// that path. Saving identical bytes twice is a no-op.
func (s *Store) Save(key parking.SpotKey, jpeg []byte) (string, error) {
	folder := filepath.Join(s.dir, fmt.Sprintf("%d_%d", key.CameraID, key.SpotNumber))
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	path := filepath.Join(folder, Fingerprint(jpeg)+".jpg")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	tmp, err := os.CreateTemp(folder, ".snap-*")
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(jpeg); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("store snapshot: %w", err)
	}
	return path, nil
}

// Load reads back a stored image by the reference Save returned.
func (s *Store) Load(ref string) ([]byte, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: snapshot %s", parking.ErrNotFound, ref)
		}
		return nil, err
	}
	return data, nil
}
