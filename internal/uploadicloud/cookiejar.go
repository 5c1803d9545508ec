package uploadicloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// filePerms restricts the session file to owner-only read/write, since it
// carries live authentication cookies.
const filePerms = 0o600

// Cookie is the subset of a browser cookie the session jar persists.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

// jarFile is the on-disk cookie jar format (spec §4.9: "persist cookies
// back to the session file").
type jarFile struct {
	Cookies []Cookie `json:"cookies"`
}

// loadSession reads a persisted cookie jar. Returns (nil, nil) if the file
// does not exist, mirroring the teacher's tokenfile.Load not-found
// contract.
func loadSession(path string) ([]Cookie, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("uploadicloud: reading session file %s: %w", path, err)
	}

	var jf jarFile
	if err := json.Unmarshal(data, &jf); err != nil {
		return nil, fmt.Errorf("uploadicloud: decoding session file %s: %w", path, err)
	}

	return jf.Cookies, nil
}

// saveSession writes the cookie jar atomically (temp file + rename), the
// same durability pattern as the teacher's tokenfile.Save.
func saveSession(path string, cookies []Cookie) error {
	data, err := json.MarshalIndent(jarFile{Cookies: cookies}, "", "  ")
	if err != nil {
		return fmt.Errorf("uploadicloud: encoding session file: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("uploadicloud: creating session directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("uploadicloud: creating temp session file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, filePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("uploadicloud: setting session file permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("uploadicloud: writing session file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("uploadicloud: syncing session file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("uploadicloud: closing session file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("uploadicloud: renaming session file: %w", err)
	}

	success = true

	return nil
}
