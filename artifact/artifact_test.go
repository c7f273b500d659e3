package artifact_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/artifact"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
	"github.com/JadKHaddad-ORG/JobHub/runner"
)

// succeededJob writes files into a fresh workdir and returns a Succeeded
// job whose refs describe them.
func succeededJob(t *testing.T, files map[string]string) *job.Job {
	t.Helper()
	dir := t.TempDir()
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(p, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	refs, err := runner.Harvest(dir, []string{"*"})
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	return &job.Job{
		ID:         id.NewJobID(),
		State:      job.StateSucceeded,
		Workdir:    dir,
		OutputRefs: refs,
	}
}

func TestPackageContents(t *testing.T) {
	t.Parallel()

	j := succeededJob(t, map[string]string{
		"b.txt":     "bravo",
		"a/one.txt": "alpha",
	})
	a, err := artifact.NewPackager().Package(context.Background(), j)
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	if a.Name != j.ID.String()+".zip" {
		t.Errorf("Name = %q", a.Name)
	}
	if a.Size() != int64(len(a.Bytes())) {
		t.Errorf("Size = %d, len = %d", a.Size(), len(a.Bytes()))
	}

	zr, err := zip.NewReader(a.Reader(), a.Size())
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	want := []struct{ name, body string }{
		{"a/one.txt", "alpha"},
		{"b.txt", "bravo"},
	}
	if len(zr.File) != len(want) {
		t.Fatalf("entries = %d, want %d", len(zr.File), len(want))
	}
	for i, f := range zr.File {
		if f.Name != want[i].name {
			t.Errorf("entry %d = %q, want %q", i, f.Name, want[i].name)
		}
		if f.Mode().Perm() != 0o644 {
			t.Errorf("%s mode = %v", f.Name, f.Mode())
		}
		if !f.Modified.Equal(j.OutputRefs[i].ModTime) {
			t.Errorf("%s modified = %v, want %v", f.Name, f.Modified, j.OutputRefs[i].ModTime)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if string(body) != want[i].body {
			t.Errorf("%s body = %q", f.Name, body)
		}
	}
}

func TestPackageIsDeterministic(t *testing.T) {
	t.Parallel()

	j := succeededJob(t, map[string]string{"x.txt": "same", "y/z.bin": "bytes"})
	first, err := artifact.NewPackager(artifact.WithCacheSize(0)).Package(context.Background(), j)
	if err != nil {
		t.Fatal(err)
	}
	second, err := artifact.NewPackager(artifact.WithCacheSize(0)).Package(context.Background(), j)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Error("two builds of the same outputs differ")
	}
	if first.Fingerprint != second.Fingerprint {
		t.Error("fingerprints differ")
	}
}

func TestPackageNotReady(t *testing.T) {
	t.Parallel()

	p := artifact.NewPackager()
	for _, st := range []job.State{job.StateQueued, job.StateRunning, job.StateFailed, job.StateCancelled} {
		j := &job.Job{ID: id.NewJobID(), State: st}
		if _, err := p.Package(context.Background(), j); !errors.Is(err, jobhub.ErrNotReady) {
			t.Errorf("%s: err = %v, want ErrNotReady", st, err)
		}
	}
}

func TestPackageDetectsChangedFiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(t *testing.T, path string)
	}{
		{"removed", func(t *testing.T, p string) {
			if err := os.Remove(p); err != nil {
				t.Fatal(err)
			}
		}},
		{"resized", func(t *testing.T, p string) {
			if err := os.WriteFile(p, []byte("longer content"), 0o644); err != nil {
				t.Fatal(err)
			}
		}},
		{"rewritten in place", func(t *testing.T, p string) {
			info, err := os.Stat(p)
			if err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(p, []byte("XXXXX"), 0o644); err != nil {
				t.Fatal(err)
			}
			if err := os.Chtimes(p, info.ModTime(), info.ModTime()); err != nil {
				t.Fatal(err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j := succeededJob(t, map[string]string{"out.txt": "hello"})
			tt.mutate(t, filepath.Join(j.Workdir, "out.txt"))

			_, err := artifact.NewPackager().Package(context.Background(), j)
			if !errors.Is(err, artifact.ErrArtifactChanged) {
				t.Fatalf("err = %v, want ErrArtifactChanged", err)
			}
			if jobhub.Classify(err) != jobhub.KindInternal {
				t.Errorf("kind = %q, want internal", jobhub.Classify(err))
			}
		})
	}
}

func TestPackageCache(t *testing.T) {
	t.Parallel()

	p := artifact.NewPackager(artifact.WithCacheSize(2))
	ctx := context.Background()

	j1 := succeededJob(t, map[string]string{"a": "1"})
	a1, err := p.Package(ctx, j1)
	if err != nil {
		t.Fatal(err)
	}

	// Once cached, the archive is served even if the workdir is gone.
	if err := os.RemoveAll(j1.Workdir); err != nil {
		t.Fatal(err)
	}
	again, err := p.Package(ctx, j1)
	if err != nil {
		t.Fatalf("cached package: %v", err)
	}
	if again != a1 {
		t.Error("expected the cached archive")
	}

	for range 2 {
		if _, err := p.Package(ctx, succeededJob(t, map[string]string{"b": "2"})); err != nil {
			t.Fatal(err)
		}
	}
	if p.Len() != 2 {
		t.Errorf("Len = %d, want 2", p.Len())
	}
	if _, err := p.Package(ctx, j1); !errors.Is(err, artifact.ErrArtifactChanged) {
		t.Errorf("evicted archive should be rebuilt and fail, got %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	ref := job.OutputRef{Path: "a", Size: 1, Mode: 0o644, ModTime: time.Unix(100, 0).UTC(), Digest: "sha256:00"}
	changed := ref
	changed.Digest = "sha256:01"

	if artifact.Fingerprint([]job.OutputRef{ref}) == artifact.Fingerprint([]job.OutputRef{changed}) {
		t.Error("digest change did not change the fingerprint")
	}
	if artifact.Fingerprint(nil) != artifact.Fingerprint([]job.OutputRef{}) {
		t.Error("empty fingerprints differ")
	}
}
