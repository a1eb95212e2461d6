// Package store persists the canonical property collection, the pipeline
// session, and the evaluation-history archive. Flat files are the state of
// record; every write is backup-then-atomic-replace.
package store

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
)

// writeAtomic writes data to path via a temp file in the same directory and
// a rename. The live file is never partially written.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "store: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "store: create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrapf(err, "store: write temp file %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrapf(err, "store: sync temp file %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "store: close temp file %s", tmpName)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "store: rename %s over %s", tmpName, path)
	}
	return nil
}

// backup copies the current file to a dated sibling before it is replaced.
// Missing files need no backup.
func backup(path string, now time.Time) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "store: read %s for backup", path)
	}

	backupPath := path + ".bak-" + now.UTC().Format("20060102-150405")
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return eris.Wrapf(err, "store: write backup %s", backupPath)
	}
	return nil
}

// saveWithBackup is the single write discipline for both state files.
func saveWithBackup(path string, data []byte, now time.Time) error {
	if err := backup(path, now); err != nil {
		return err
	}
	return writeAtomic(path, data)
}
