package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/JadKHaddad-ORG/JobHub/job"
	"github.com/JadKHaddad-ORG/JobHub/stream"
)

// LogDir is the directory inside a workdir holding captured output. It is
// never harvested.
const LogDir = "_logs"

// LogFile returns the path of the captured log for one output stream.
func LogFile(workdir string, s stream.IOStream) string {
	return filepath.Join(workdir, LogDir, string(s)+".log")
}

// Prepare creates the workdir and its log directory and writes the job's
// input files into it.
func Prepare(workdir string, inputs []job.Input) error {
	if err := os.MkdirAll(filepath.Join(workdir, LogDir), 0o755); err != nil {
		return err
	}
	for _, in := range inputs {
		rel, err := job.CleanRelative(in.Path)
		if err != nil {
			return fmt.Errorf("input %q: %w", in.Path, err)
		}
		dst := filepath.Join(workdir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, in.Content, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Harvest resolves the declared output patterns against workdir and
// describes every matched regular file. Directories are walked. Results
// are de-duplicated and sorted by path so identical trees give identical
// refs. A pattern matching nothing is an error.
func Harvest(workdir string, patterns []string) ([]job.OutputRef, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var paths []string
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			paths = append(paths, p)
		}
	}

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(workdir, filepath.FromSlash(pattern)))
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", pattern, err)
		}
		found := 0
		for _, m := range matches {
			info, err := os.Lstat(m)
			if err != nil {
				return nil, fmt.Errorf("stat output %q: %w", m, err)
			}
			if info.IsDir() {
				files, err := collectFiles(workdir, m)
				if err != nil {
					return nil, fmt.Errorf("collecting files from %q: %w", pattern, err)
				}
				for _, f := range files {
					add(f)
				}
				found += len(files)
				continue
			}
			if info.Mode().IsRegular() && !inLogDir(workdir, m) {
				add(m)
				found++
			}
		}
		if found == 0 {
			return nil, fmt.Errorf("declared output %q matched no files", pattern)
		}
	}

	refs := make([]job.OutputRef, 0, len(paths))
	for _, p := range paths {
		ref, err := describe(workdir, p)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, k int) bool { return refs[i].Path < refs[k].Path })
	return refs, nil
}

// collectFiles walks dir for regular files, skipping the log directory.
func collectFiles(workdir, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if inLogDir(workdir, p) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func inLogDir(workdir, p string) bool {
	rel, err := filepath.Rel(workdir, p)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel == LogDir || strings.HasPrefix(rel, LogDir+"/")
}

func describe(workdir, p string) (job.OutputRef, error) {
	info, err := os.Stat(p)
	if err != nil {
		return job.OutputRef{}, fmt.Errorf("stat output %q: %w", p, err)
	}
	digest, err := Digest(p)
	if err != nil {
		return job.OutputRef{}, err
	}
	rel, err := filepath.Rel(workdir, p)
	if err != nil {
		return job.OutputRef{}, err
	}
	return job.OutputRef{
		Path:    filepath.ToSlash(rel),
		Size:    info.Size(),
		Mode:    info.Mode().Perm(),
		ModTime: info.ModTime().UTC().Truncate(time.Second),
		Digest:  digest,
	}, nil
}

// Digest returns "sha256:<hex>" of the file at p.
func Digest(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("open output %q: %w", p, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash output %q: %w", p, err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
