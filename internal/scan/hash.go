package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

const hashBufSize = 64 * 1024

// HashFile computes the SHA-256 of the file's full content, returned as a
// lowercase hex string. Also reports the number of bytes read so the sync
// progress can expose IO volume.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.CopyBuffer(h, f, make([]byte, hashBufSize))
	if err != nil {
		return "", n, fmt.Errorf("read %q: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
