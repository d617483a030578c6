// Package durable persists single JSON documents crash-safely.
//
// Save writes to a temp file in the target's directory, fsyncs it and renames
// it over the target, keeping a copy of the previous target in a ".bak"
// sibling. Load never fails: a corrupt or missing document is recovered from
// the backup when possible and otherwise replaced by the caller's fallback.
package durable

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Source reports where Load got its document from.
type Source int

const (
	Primary  Source = iota // the target file parsed cleanly
	Backup                 // the target was missing or corrupt; the .bak was used and the target rewritten
	Fallback               // nothing usable on disk; the caller's fallback was returned
)

func (s Source) String() string {
	switch s {
	case Primary:
		return "primary"
	case Backup:
		return "backup"
	case Fallback:
		return "fallback"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// rename is swapped out by tests to simulate a crash between write and rename.
var rename = os.Rename

// BackupPath returns the backup sibling of path.
func BackupPath(path string) string {
	return path + ".bak"
}

// TempPattern returns the os.CreateTemp pattern used for path's temp files.
func TempPattern(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return "." + stem + "_*.tmp"
}

// Save marshals v as indented JSON and atomically replaces path with it.
// The previous contents of path, if any, are copied to BackupPath(path) first;
// a failed backup is not fatal. On error the temp file is removed and path is
// left exactly as it was.
func Save(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	return write(path, data, true)
}

func write(path string, data []byte, backup bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	if backup {
		copyFile(path, BackupPath(path))
	}

	tmp, err := os.CreateTemp(dir, TempPattern(path))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to %s: %w", filepath.Base(path), err)
	}
	ok = true

	syncDir(dir)
	return nil
}

// copyFile copies src over dst. Missing src and copy errors are ignored;
// dst is left alone unless src is a regular file.
func copyFile(src, dst string) {
	in, err := os.Open(src)
	if err != nil {
		return
	}
	defer in.Close()
	if fi, err := in.Stat(); err != nil || !fi.Mode().IsRegular() {
		return
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return
	}
	_ = out.Sync()
	out.Close()
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}

// Load reads the JSON document at path into a T.
//
// Recovery order: the target file, then its backup (rewriting the target from
// it), then fallback. Every recovery path is logged; Load itself never fails.
func Load[T any](path string, fallback T, log zerolog.Logger) (T, Source) {
	name := filepath.Base(path)

	v, err := decodeFile[T](path)
	if err == nil {
		return v, Primary
	}

	missing := errors.Is(err, os.ErrNotExist)
	if !missing {
		log.Warn().Err(err).Str("file", name).Msg("store corrupted")
	}

	bak := BackupPath(path)
	bv, berr := decodeFile[T](bak)
	if berr == nil {
		if missing {
			log.Warn().Str("file", name).Msg("store missing, recovered from backup")
		} else {
			log.Warn().Str("file", name).Msg("recovered from backup")
		}
		if data, rerr := os.ReadFile(bak); rerr == nil {
			// The target must not be backed up here: it is the corrupt copy.
			if werr := write(path, data, false); werr != nil {
				log.Error().Err(werr).Str("file", name).Msg("restore from backup failed")
			}
		}
		return bv, Backup
	}

	if !missing {
		if errors.Is(berr, os.ErrNotExist) {
			log.Error().Str("file", name).Msg("no backup found, starting fresh")
		} else {
			log.Error().Err(berr).Str("file", name).Msg("backup also corrupted, starting fresh")
		}
	}
	return fallback, Fallback
}

func decodeFile[T any](path string) (T, error) {
	var v T
	data, err := os.ReadFile(path)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return v, nil
}

// CleanTemps removes temp files left in dir by saves that never reached their
// rename, i.e. a process that died mid-write. It returns the removed names.
func CleanTemps(dir string, targets ...string) ([]string, error) {
	var removed []string
	for _, target := range targets {
		matches, err := filepath.Glob(filepath.Join(dir, TempPattern(target)))
		if err != nil {
			return removed, fmt.Errorf("glob temps: %w", err)
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
				return removed, fmt.Errorf("remove %s: %w", filepath.Base(m), err)
			}
			removed = append(removed, filepath.Base(m))
		}
	}
	return removed, nil
}
