package hub

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/artifact"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
	"github.com/JadKHaddad-ORG/JobHub/runner"
	"github.com/JadKHaddad-ORG/JobHub/stream"
)

// Subscribe opens a subscription scoped to owner. A job filter must name a
// job the owner can see.
func (h *Hub) Subscribe(ctx context.Context, owner string, f stream.Filter, opts stream.SubscribeOptions) (*stream.Subscription, error) {
	if owner != "" {
		f.Owner = owner
	}
	if !f.JobID.IsNil() {
		if _, err := h.Get(ctx, owner, f.JobID); err != nil {
			return nil, err
		}
	}
	return h.broadcaster.Subscribe(f, opts)
}

// Unsubscribe closes sub.
func (h *Hub) Unsubscribe(sub *stream.Subscription) {
	h.broadcaster.Unsubscribe(sub)
}

// LastSeq returns the sequence number of the newest released event.
func (h *Hub) LastSeq() uint64 { return h.broadcaster.LastSeq() }

// Package returns the zip archive of a succeeded job's outputs.
func (h *Hub) Package(ctx context.Context, owner string, jobID id.JobID) (*artifact.Archive, error) {
	j, err := h.Get(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	return h.packager.Package(ctx, j)
}

// Logs returns the captured output of one stream. It can be read while the
// job is running.
func (h *Hub) Logs(ctx context.Context, owner string, jobID id.JobID, s stream.IOStream) ([]byte, error) {
	if !s.Valid() {
		return nil, jobhub.Invalid("stream", "unknown stream %q", s)
	}
	j, err := h.Get(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(runner.LogFile(j.Workdir, s))
	switch {
	case err == nil:
		return data, nil
	case os.IsNotExist(err) && j.State == job.StateQueued:
		return nil, fmt.Errorf("%w: job %s has not started", jobhub.ErrNotReady, jobID)
	case os.IsNotExist(err):
		return nil, fmt.Errorf("%w: no %s log for job %s", jobhub.ErrNotFound, s, jobID)
	default:
		return nil, fmt.Errorf("%w: read log: %v", jobhub.ErrInternal, err)
	}
}

// LogFiles lists the files in the job's log directory, sorted.
func (h *Hub) LogFiles(ctx context.Context, owner string, jobID id.JobID) ([]string, error) {
	j, err := h.Get(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(j.Workdir, runner.LogDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: list logs: %v", jobhub.ErrInternal, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
