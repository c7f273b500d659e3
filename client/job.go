package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
	"github.com/JadKHaddad-ORG/JobHub/stream"
)

// CancelResult reports what a cancel request achieved: "cancelled",
// "requested" or "already_finished".
type CancelResult struct {
	Outcome string   `json:"outcome"`
	Job     *job.Job `json:"job"`
}

// ListOptions filters List.
type ListOptions struct {
	States         []job.State
	RetryOf        id.JobID
	FinishedBefore time.Time
	Limit          int
	Offset         int
}

// NewOwner asks the server for a fresh owner id.
func (c *Client) NewOwner(ctx context.Context) (string, error) {
	var out struct {
		Owner string `json:"owner"`
	}
	if err := c.getJSON(ctx, http.MethodGet, "/api/owner", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Owner, nil
}

// Submit submits a job spec and returns the Queued job.
func (c *Client) Submit(ctx context.Context, spec job.Spec) (*job.Job, error) {
	var j job.Job
	if err := c.getJSON(ctx, http.MethodPost, "/api/jobs", nil, spec, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Get retrieves a job by id.
func (c *Client) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if err := c.getJSON(ctx, http.MethodGet, "/api/jobs/"+jobID.String(), nil, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// List returns the caller's jobs, oldest first.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]*job.Job, error) {
	q := url.Values{}
	for _, s := range opts.States {
		q.Add("state", string(s))
	}
	if !opts.RetryOf.IsNil() {
		q.Set("retry_of", opts.RetryOf.String())
	}
	if !opts.FinishedBefore.IsZero() {
		q.Set("finished_before", opts.FinishedBefore.UTC().Format(time.RFC3339))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var jobs []*job.Job
	if err := c.getJSON(ctx, http.MethodGet, "/api/jobs", q, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Cancel cancels a job.
func (c *Client) Cancel(ctx context.Context, jobID id.JobID) (*CancelResult, error) {
	var res CancelResult
	if err := c.getJSON(ctx, http.MethodPut, "/api/jobs/"+jobID.String()+"/cancel", nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Download writes the zip archive of a succeeded job's outputs to w.
func (c *Client) Download(ctx context.Context, jobID id.JobID, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/jobs/"+jobID.String()+"/archive", nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("jobhub/client: download archive: %w", err)
	}
	return n, nil
}

// LogFiles lists a job's captured log files.
func (c *Client) LogFiles(ctx context.Context, jobID id.JobID) ([]string, error) {
	var out struct {
		Files []string `json:"files"`
	}
	if err := c.getJSON(ctx, http.MethodGet, "/api/jobs/"+jobID.String()+"/logs", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// Logs returns the captured output of one stream of a job.
func (c *Client) Logs(ctx context.Context, jobID id.JobID, s stream.IOStream) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/jobs/"+jobID.String()+"/logs/"+string(s), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Wait polls a job until it is terminal or ctx ends.
func (c *Client) Wait(ctx context.Context, jobID id.JobID, interval time.Duration) (*job.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		j, err := c.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if j.State.Terminal() {
			return j, nil
		}
		select {
		case <-ctx.Done():
			return j, ctx.Err()
		case <-ticker.C:
		}
	}
}
