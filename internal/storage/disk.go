package storage

import (
	"errors"
	"io/fs"
	"os"
)

// sidecars lists the files a backend keeps next to its database file.
var sidecars = map[Backend][]string{
	BackendBolt:   nil,
	BackendSQLite: {"-wal", "-shm", "-journal"},
}

// Footprint returns the bytes on disk used by the response table at path,
// including the backend's sidecar files. Files that do not exist count as zero.
func Footprint(backend, path string) (int64, error) {
	if backend == "" {
		backend = string(BackendBolt)
	}
	suffixes, ok := sidecars[Backend(backend)]
	if !ok {
		return 0, unknownBackend(backend)
	}
	total, err := fileSize(path)
	if err != nil {
		return 0, err
	}
	for _, suffix := range suffixes {
		n, err := fileSize(path + suffix)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
