package storage

import (
	"errors"
	"io/fs"
	"os"
)

// storeFiles lists the database file and the SQLite sidecar files written next to it.
func storeFiles(dbPath string) []string {
	return []string{dbPath, dbPath + "-wal", dbPath + "-shm", dbPath + ".lock"}
}

// DiskUsage returns the bytes used by the store database, its WAL files and its lock file.
func (s *SQLiteStore) DiskUsage() (int64, error) {
	return filesSize(storeFiles(s.path)...)
}

// filesSize sums the sizes of the given regular files. Missing files count as zero.
func filesSize(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
	}
	return total, nil
}
