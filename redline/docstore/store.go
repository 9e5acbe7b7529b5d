// Package docstore keeps versioned document snapshots on the local
// filesystem. Each document is a directory holding one JSON file per
// version; committed versions are never rewritten.
package docstore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/theimaginaryfoundation/redline-o-bot/redline"
	"github.com/theimaginaryfoundation/redline-o-bot/redline/fileutils"
)

var (
	refPattern     = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)
	versionPattern = regexp.MustCompile(`^v(\d{6,})\.json$`)
)

// Store is a directory of documents.
type Store struct {
	root string
}

// Open returns a store rooted at dir, creating it if needed.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("docstore.Open: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("docstore.Open: %w", err)
	}
	return &Store{root: dir}, nil
}

// ValidRef reports whether ref can name a document.
func ValidRef(ref string) bool {
	return refPattern.MatchString(ref) && !strings.Contains(ref, "..")
}

func (s *Store) docDir(ref string) (string, error) {
	if !ValidRef(ref) {
		return "", fmt.Errorf("document reference %q: %w", ref, redline.ErrInvalidInput)
	}
	return filepath.Join(s.root, ref), nil
}

// VersionPath is the file holding version v of ref.
func (s *Store) VersionPath(ref string, v int) (string, error) {
	dir, err := s.docDir(ref)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("v%06d.json", v)), nil
}

// Versions lists the committed versions of ref in ascending order.
func (s *Store) Versions(ref string) ([]int, error) {
	dir, err := s.docDir(ref)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("document %q: %w", ref, redline.ErrNotFound)
		}
		return nil, err
	}
	var out []int
	for _, e := range entries {
		m := versionPattern.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("document %q has no versions: %w", ref, redline.ErrNotFound)
	}
	sort.Ints(out)
	return out, nil
}

// Fetch returns the latest snapshot of ref.
func (s *Store) Fetch(ctx context.Context, ref string) (redline.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return redline.Snapshot{}, err
	}
	versions, err := s.Versions(ref)
	if err != nil {
		return redline.Snapshot{}, err
	}
	return s.FetchVersion(ctx, ref, versions[len(versions)-1])
}

// FetchVersion returns version v of ref.
func (s *Store) FetchVersion(ctx context.Context, ref string, v int) (redline.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return redline.Snapshot{}, err
	}
	path, err := s.VersionPath(ref, v)
	if err != nil {
		return redline.Snapshot{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return redline.Snapshot{}, fmt.Errorf("document %q version %d: %w", ref, v, redline.ErrNotFound)
		}
		return redline.Snapshot{}, err
	}
	return decodeSnapshot(b, ref, v)
}

func decodeSnapshot(b []byte, ref string, v int) (redline.Snapshot, error) {
	var snap redline.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return redline.Snapshot{}, fmt.Errorf("document %q version %d: %v: %w", ref, v, err, redline.ErrCorrupt)
	}
	if snap.DocumentRef != ref || snap.Version != v {
		return redline.Snapshot{}, fmt.Errorf("document %q version %d: file claims %q version %d: %w", ref, v, snap.DocumentRef, snap.Version, redline.ErrCorrupt)
	}
	for i, p := range snap.Paragraphs {
		if p.ID != i {
			return redline.Snapshot{}, fmt.Errorf("document %q version %d: paragraph %d has id %d: %w", ref, v, i, p.ID, redline.ErrCorrupt)
		}
	}
	return snap, nil
}

// Commit writes paragraphs as version basedOn+1 of ref and returns the stored
// bytes. It fails with redline.ErrSnapshotMismatch when basedOn is not the
// latest version, including when another writer commits the same version
// first.
func (s *Store) Commit(ctx context.Context, ref string, basedOn int, paragraphs []redline.Paragraph) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	versions, err := s.Versions(ref)
	if err != nil {
		return nil, err
	}
	if latest := versions[len(versions)-1]; latest != basedOn {
		return nil, fmt.Errorf("document %q is at version %d, not %d: %w", ref, latest, basedOn, redline.ErrSnapshotMismatch)
	}
	b, err := s.write(ref, basedOn+1, paragraphs)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("document %q version %d committed concurrently: %w", ref, basedOn+1, redline.ErrSnapshotMismatch)
	}
	return b, err
}

// Create stores paragraphs as version 1 of a new document.
func (s *Store) Create(ctx context.Context, ref string, paragraphs []redline.Paragraph) (redline.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return redline.Snapshot{}, err
	}
	if _, err := s.write(ref, 1, paragraphs); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return redline.Snapshot{}, fmt.Errorf("document %q already exists: %w", ref, redline.ErrInvalidInput)
		}
		return redline.Snapshot{}, err
	}
	return s.FetchVersion(ctx, ref, 1)
}

func (s *Store) write(ref string, v int, paragraphs []redline.Paragraph) ([]byte, error) {
	path, err := s.VersionPath(ref, v)
	if err != nil {
		return nil, err
	}
	snap := redline.Snapshot{DocumentRef: ref, Version: v, Paragraphs: make([]redline.Paragraph, len(paragraphs))}
	for i, p := range paragraphs {
		snap.Paragraphs[i] = p.Clone()
		snap.Paragraphs[i].ID = i
	}
	b, err := fileutils.MarshalJSON(snap, true)
	if err != nil {
		return nil, err
	}
	if err := fileutils.WriteFileExclusive(path, b, 0o644); err != nil {
		return nil, err
	}
	return b, nil
}

// ImportText creates a document from plain text, one paragraph per line.
// Blank lines become empty paragraphs so positions match the source.
func (s *Store) ImportText(ctx context.Context, ref string, r io.Reader) (redline.Snapshot, error) {
	paragraphs, err := ParseText(r)
	if err != nil {
		return redline.Snapshot{}, err
	}
	return s.Create(ctx, ref, paragraphs)
}

// ParseText splits r into paragraphs, one per line, each non-empty line
// carrying a single unformatted run.
func ParseText(r io.Reader) ([]redline.Paragraph, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var out []redline.Paragraph
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		p := redline.Paragraph{ID: len(out), Text: line}
		if line != "" {
			p.Runs = []redline.Run{{Text: line}}
		}
		out = append(out, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ParseText: %w", err)
	}
	return out, nil
}

// Export copies version v of ref to dstPath.
func (s *Store) Export(ref string, v int, dstPath string, overwrite bool) (bool, error) {
	src, err := s.VersionPath(ref, v)
	if err != nil {
		return false, err
	}
	if !fileutils.FileExists(src) {
		return false, fmt.Errorf("document %q version %d: %w", ref, v, redline.ErrNotFound)
	}
	return fileutils.CopyFileIfExists(src, dstPath, overwrite)
}
