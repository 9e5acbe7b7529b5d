package fileutils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// OneLine folds line breaks into a visible "\n" so text fits a key=value line.
func OneLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\n", "\\n")
}

// Truncate shortens s to at most max characters, marking the cut with "…".
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "…"
}

// CopyFileIfExists copies srcPath to dstPath through a temp file in the
// destination directory. It reports false when srcPath is missing or when
// dstPath exists and overwrite is false.
func CopyFileIfExists(srcPath, dstPath string, overwrite bool) (bool, error) {
	if srcPath == "" || dstPath == "" {
		return false, errors.New("CopyFileIfExists: empty path")
	}

	b, err := os.ReadFile(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	if !overwrite {
		if _, err := os.Stat(dstPath); err == nil {
			return false, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
	}

	tmpName, err := writeTemp(filepath.Dir(dstPath), ".tmp_copy_*", b, 0o644, false)
	if err != nil {
		return false, err
	}
	defer func() { _ = os.Remove(tmpName) }()
	if err := os.Rename(tmpName, dstPath); err != nil {
		return false, err
	}
	return true, nil
}

// WriteJSONFileAtomic marshals v and writes it with WriteFileAtomic.
func WriteJSONFileAtomic(path string, v any, pretty bool) error {
	b, err := MarshalJSON(v, pretty)
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(path, b, 0o644); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// MarshalJSON encodes v, indented when pretty is set.
func MarshalJSON(v any, pretty bool) ([]byte, error) {
	var b []byte
	var err error
	if pretty {
		b, err = json.MarshalIndent(v, "", "  ")
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return b, nil
}

// WriteFileAtomic writes data plus a trailing newline to a temp file next to
// path, syncs it and renames it over path.
func WriteFileAtomic(path string, data []byte, mode fs.FileMode) error {
	tmpName, err := writeTemp(filepath.Dir(path), ".tmp_write_*", data, mode, true)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmpName) }()
	return os.Rename(tmpName, path)
}

// WriteFileExclusive is WriteFileAtomic that refuses to replace an existing
// file. The final name is created with a hard link, so exactly one of several
// concurrent writers wins; the others get an error matching fs.ErrExist.
func WriteFileExclusive(path string, data []byte, mode fs.FileMode) error {
	tmpName, err := writeTemp(filepath.Dir(path), ".tmp_write_*", data, mode, true)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmpName) }()
	return os.Link(tmpName, path)
}

func writeTemp(dir, pattern string, data []byte, mode fs.FileMode, newline bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	fail := func(err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}

	if err := tmp.Chmod(mode); err != nil {
		return fail(err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if newline {
		if _, err := tmp.Write([]byte("\n")); err != nil {
			return fail(err)
		}
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return tmpName, nil
}
