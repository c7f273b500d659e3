// Package artifact packages a succeeded job's output files into a single
// zip archive.
//
// Archives are byte-deterministic: entries are written in path order with
// the modification time and mode recorded at harvest, so the same outputs
// always give the same bytes. Built archives are kept in a bounded LRU
// cache keyed by job id and a fingerprint of the output refs.
package artifact

import (
	"archive/zip"
	"bytes"
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/job"
)

// ErrArtifactChanged reports an output file that no longer matches the
// ref recorded when the job succeeded.
var ErrArtifactChanged = fmt.Errorf("%w: output file changed since the job finished", jobhub.ErrInternal)

// DefaultCacheSize is the default number of cached archives.
const DefaultCacheSize = 32

// Archive is a packaged set of job outputs.
type Archive struct {
	Name        string
	Fingerprint string
	data        []byte
}

// Size returns the archive length in bytes.
func (a *Archive) Size() int64 { return int64(len(a.data)) }

// Bytes returns the archive contents. Callers must not modify them.
func (a *Archive) Bytes() []byte { return a.data }

// Reader returns a fresh reader over the archive.
func (a *Archive) Reader() *bytes.Reader { return bytes.NewReader(a.data) }

// Packager builds and caches archives. It has no store side effects.
type Packager struct {
	capacity int
	logger   *slog.Logger

	mu    sync.Mutex
	lru   *list.List
	items map[string]*list.Element

	group singleflight.Group
}

// Option configures a Packager.
type Option func(*Packager)

// WithCacheSize sets how many archives are kept. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(p *Packager) { p.capacity = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Packager) { p.logger = l }
}

// NewPackager creates a packager.
func NewPackager(opts ...Option) *Packager {
	p := &Packager{
		capacity: DefaultCacheSize,
		logger:   slog.Default(),
		lru:      list.New(),
		items:    make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Package returns the archive of j's outputs. It fails with
// jobhub.ErrNotReady unless j has Succeeded.
func (p *Packager) Package(ctx context.Context, j *job.Job) (*Archive, error) {
	if j.State != job.StateSucceeded {
		return nil, fmt.Errorf("%w: job %s is %s", jobhub.ErrNotReady, j.ID, j.State)
	}

	fp := Fingerprint(j.OutputRefs)
	key := j.ID.String() + "/" + fp
	if a, ok := p.get(key); ok {
		return a, nil
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		data, err := build(ctx, j.Workdir, j.OutputRefs)
		if err != nil {
			return nil, err
		}
		a := &Archive{Name: j.ID.String() + ".zip", Fingerprint: fp, data: data}
		p.put(key, a)
		p.logger.Debug("archive built",
			slog.String("job_id", j.ID.String()),
			slog.Int("files", len(j.OutputRefs)),
			slog.Int64("bytes", a.Size()),
		)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Archive), nil
}

// Fingerprint is the hex sha256 of everything recorded about refs.
func Fingerprint(refs []job.OutputRef) string {
	h := sha256.New()
	for _, r := range refs {
		fmt.Fprintf(h, "%s\x00%d\x00%o\x00%d\x00%s\n",
			r.Path, r.Size, uint32(r.Mode), r.ModTime.Unix(), r.Digest)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func build(ctx context.Context, workdir string, refs []job.OutputRef) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := addFile(zw, workdir, ref); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("artifact: finish archive: %w", err)
	}
	return buf.Bytes(), nil
}

func addFile(zw *zip.Writer, workdir string, ref job.OutputRef) error {
	path := filepath.Join(workdir, filepath.FromSlash(ref.Path))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s is gone", ErrArtifactChanged, ref.Path)
		}
		return fmt.Errorf("%w: open %s: %v", jobhub.ErrInternal, ref.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", jobhub.ErrInternal, ref.Path, err)
	}
	if info.Size() != ref.Size || !info.ModTime().UTC().Truncate(time.Second).Equal(ref.ModTime) {
		return fmt.Errorf("%w: %s", ErrArtifactChanged, ref.Path)
	}

	hdr := &zip.FileHeader{
		Name:     ref.Path,
		Method:   zip.Deflate,
		Modified: ref.ModTime.UTC(),
	}
	hdr.SetMode(ref.Mode)
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("artifact: add %s: %w", ref.Path, err)
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(w, h), f); err != nil {
		return fmt.Errorf("%w: read %s: %v", jobhub.ErrInternal, ref.Path, err)
	}
	if ref.Digest != "" && "sha256:"+hex.EncodeToString(h.Sum(nil)) != ref.Digest {
		return fmt.Errorf("%w: %s content differs", ErrArtifactChanged, ref.Path)
	}
	return nil
}

func (p *Packager) get(key string) (*Archive, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.items[key]
	if !ok {
		return nil, false
	}
	p.lru.MoveToFront(el)
	return el.Value.(*cacheEntry).archive, true
}

type cacheEntry struct {
	key     string
	archive *Archive
}

func (p *Packager) put(key string, a *Archive) {
	if p.capacity <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.items[key]; ok {
		p.lru.MoveToFront(el)
		return
	}
	p.items[key] = p.lru.PushFront(&cacheEntry{key: key, archive: a})
	for p.lru.Len() > p.capacity {
		oldest := p.lru.Back()
		p.lru.Remove(oldest)
		delete(p.items, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of cached archives.
func (p *Packager) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Len()
}
