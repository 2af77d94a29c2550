// Package fileid provides stable identifiers and change fingerprints for imported files.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
)

const prefix = "file:"

// FileID returns a stable ID for the given absolute path.
// Same path always yields the same ID.
func FileID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:])
}

// Fingerprint returns "<mtime ns>:<size>" for info. A file whose fingerprint
// is unchanged since its last import is not imported again.
func Fingerprint(info os.FileInfo) string {
	return strconv.FormatInt(info.ModTime().UnixNano(), 10) + ":" + strconv.FormatInt(info.Size(), 10)
}
