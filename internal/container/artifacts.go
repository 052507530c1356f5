package container

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/circuitsmith/circuitsmith/internal/pipeline"
)

// Snapshot records the content hash of every file under dir, keyed by
// path relative to dir. Taken before a run so CopyArtifacts can report
// only files the run actually produced or changed; pre-existing files in
// the output directory must never be attributed to the current run.
func Snapshot(dir string) (map[string]string, error) {
	hashes := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return nil // nothing there yet
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		h, err := hashFile(path)
		if err != nil {
			return fmt.Errorf("hash %s: %w", rel, err)
		}
		hashes[filepath.ToSlash(rel)] = h
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("snapshot %s: %w", dir, err)
	}
	return hashes, nil
}

// CopyArtifacts copies containerDir out of the session into hostDir, then
// diffs against the pre-run snapshot by content hash. Only files that are
// new or whose content changed are returned; a regenerated file with
// identical bytes is not an artifact of this run.
func (s *Session) CopyArtifacts(ctx context.Context, containerDir, hostDir string, before map[string]string) ([]pipeline.ArtifactFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(hostDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", hostDir, err)
	}
	if err := s.runner.CopyFrom(ctx, s.name, containerDir+"/.", hostDir); err != nil {
		return nil, &ContainerError{Op: "copy", Name: s.name, Err: err}
	}
	return DiffArtifacts(hostDir, before)
}

// DiffArtifacts returns manifest entries for files under dir that are
// absent from the before snapshot or whose hash differs from it.
func DiffArtifacts(dir string, before map[string]string) ([]pipeline.ArtifactFile, error) {
	after, err := Snapshot(dir)
	if err != nil {
		return nil, err
	}

	var files []pipeline.ArtifactFile
	for rel, hash := range after {
		if prev, ok := before[rel]; ok && prev == hash {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", rel, err)
		}
		files = append(files, pipeline.ArtifactFile{
			Path: rel,
			Size: info.Size(),
			Hash: hash,
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// ListAll returns manifest entries for every file under dir, for callers
// requesting the full output directory rather than run-only artifacts.
func ListAll(dir string) ([]pipeline.ArtifactFile, error) {
	return DiffArtifacts(dir, nil)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
