package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JadKHaddad-ORG/JobHub/client"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
	"github.com/JadKHaddad-ORG/JobHub/stream"
	"github.com/JadKHaddad-ORG/JobHub/wire"
)

func newSubmitCmd(g *globals) *cobra.Command {
	var (
		file     string
		handler  string
		params   string
		outputs  []string
		env      []string
		inputs   []string
		timeout  time.Duration
		attempts int
		priority int
		wait     bool
	)

	cmd := &cobra.Command{
		Use:   "submit [flags] [-- command args...]",
		Short: "Submit a job",
		Example: `  jobhub submit --output report.txt -- sh -c 'date > report.txt'
  jobhub submit --file spec.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var spec job.Spec
			if file != "" {
				if err := readSpec(file, cmd.InOrStdin(), &spec); err != nil {
					return err
				}
			}
			if len(args) > 0 {
				spec.Command = args
			}
			if handler != "" {
				spec.Handler = handler
			}
			if params != "" {
				spec.Params = json.RawMessage(params)
			}
			spec.Outputs = append(spec.Outputs, outputs...)
			for _, kv := range env {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("--env %q: want KEY=VALUE", kv)
				}
				if spec.Env == nil {
					spec.Env = make(map[string]string)
				}
				spec.Env[k] = v
			}
			for _, in := range inputs {
				dst, src, ok := strings.Cut(in, "=")
				if !ok {
					src = dst
				}
				content, err := os.ReadFile(src)
				if err != nil {
					return fmt.Errorf("--input %q: %w", in, err)
				}
				spec.Inputs = append(spec.Inputs, job.Input{Path: dst, Content: content})
			}
			if timeout > 0 {
				spec.Timeout = job.Duration(timeout)
			}
			if attempts > 0 {
				spec.MaxAttempts = attempts
			}
			if cmd.Flags().Changed("priority") {
				spec.Priority = priority
			}

			c, err := g.client()
			if err != nil {
				return err
			}
			j, err := c.Submit(cmd.Context(), spec)
			if err != nil {
				return err
			}
			if wait {
				if j, err = c.Wait(cmd.Context(), j.ID, 500*time.Millisecond); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), j)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "read the job spec from a JSON file (- for stdin)")
	f.StringVar(&handler, "handler", "", "run a registered in-process handler instead of a command")
	f.StringVar(&params, "params", "", "handler parameters as JSON")
	f.StringArrayVarP(&outputs, "output", "o", nil, "output glob to harvest (repeatable)")
	f.StringArrayVarP(&env, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	f.StringArrayVarP(&inputs, "input", "i", nil, "input file as workdir-path=local-path (repeatable)")
	f.DurationVar(&timeout, "timeout", 0, "attempt timeout")
	f.IntVar(&attempts, "attempts", 0, "maximum attempts")
	f.IntVar(&priority, "priority", 0, "queue priority, higher first")
	f.BoolVarP(&wait, "wait", "w", false, "wait until the job finishes")
	return cmd
}

func readSpec(path string, stdin io.Reader, spec *job.Spec) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read spec: %w", err)
	}
	if err := json.Unmarshal(data, spec); err != nil {
		return fmt.Errorf("parse spec: %w", err)
	}
	return nil
}

func newGetCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			j, err := c.Get(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), j)
		},
	}
}

func newListCmd(g *globals) *cobra.Command {
	var (
		states []string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your jobs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := client.ListOptions{Limit: limit, Offset: offset}
			for _, s := range states {
				st, err := job.ParseState(s)
				if err != nil {
					return err
				}
				opts.States = append(opts.States, st)
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			jobs, err := c.List(cmd.Context(), opts)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, j := range jobs {
				what := strings.Join(j.Spec.Command, " ")
				if j.Spec.Handler != "" {
					what = "handler:" + j.Spec.Handler
				}
				fmt.Fprintf(w, "%s\t%-9s\t%d\t%s\t%s\n",
					j.ID, j.State, j.Attempt, j.CreatedAt.Local().Format(time.DateTime), what)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&states, "state", nil, "filter by state (repeatable or comma-separated)")
	f.IntVar(&limit, "limit", 0, "maximum number of jobs")
	f.IntVar(&offset, "offset", 0, "number of jobs to skip")
	return cmd
}

func newCancelCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			res, err := c.Cancel(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			if res.Job == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", jobID, res.Outcome)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", jobID, res.Outcome, res.Job.State)
			return nil
		},
	}
}

func newDownloadCmd(g *globals) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "download <job-id>",
		Short: "Download the zip archive of a succeeded job's outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = jobID.String() + ".zip"
			}
			c, err := g.client()
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			n, err := c.Download(cmd.Context(), jobID, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(out)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "destination file (default <job-id>.zip)")
	return cmd
}

func newLogsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <job-id> [stdout|stderr]",
		Short: "Print a job's captured output",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}
			s := stream.Stdout
			if len(args) == 2 {
				s = stream.IOStream(args[1])
				if !s.Valid() {
					return fmt.Errorf("unknown stream %q", args[1])
				}
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			data, err := c.Logs(cmd.Context(), jobID, s)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newOwnerCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "owner",
		Short: "Request a fresh owner id from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			owner, err := c.NewOwner(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), owner)
			return nil
		},
	}
}

func newWatchCmd(g *globals) *cobra.Command {
	var (
		after  uint64
		output bool
	)
	cmd := &cobra.Command{
		Use:   "watch [job-id]",
		Short: "Stream job events over the websocket; all jobs when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := wire.Wildcard
			var jobID id.JobID
			if len(args) == 1 {
				var err error
				if jobID, err = id.ParseJobID(args[0]); err != nil {
					return err
				}
				target = jobID.String()
			}

			c, err := g.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			conn, err := c.Connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			sub, err := conn.Subscribe(ctx, wire.SubscribeRequest{
				JobID:  target,
				After:  after,
				Resume: cmd.Flags().Changed("after"),
				Output: output,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case m, ok := <-sub.C():
					if !ok {
						if err := sub.Err(); err != nil && !errors.Is(err, client.ErrConnClosed) {
							return err
						}
						return nil
					}
					printMessage(w, m)
					// A single-job watch ends with the job.
					if !jobID.IsNil() && m.Kind == stream.KindEvent && m.Event.To.Terminal() {
						return nil
					}
				}
			}
		},
	}
	f := cmd.Flags()
	f.Uint64Var(&after, "after", 0, "replay events after this sequence number")
	f.BoolVar(&output, "output", false, "include live stdout/stderr chunks")
	return cmd
}

func printMessage(w io.Writer, m *client.Message) {
	switch m.Kind {
	case stream.KindEvent:
		e := m.Event
		from := string(e.From)
		if from == "" {
			from = "-"
		}
		fmt.Fprintf(w, "%6d  %s  %s  %s -> %s  attempt=%d\n",
			e.Seq, e.At.Local().Format(time.TimeOnly), e.JobID, from, e.To, e.Attempt)
	case stream.KindOutput:
		fmt.Fprintf(w, "[%s %s] %s", m.Output.JobID, m.Output.Stream, m.Output.Data)
	case stream.KindGap:
		fmt.Fprintf(w, "gap: events after %d are gone (oldest %d, latest %d); re-list jobs\n", m.Gap.After, m.Gap.Oldest, m.Gap.Latest)
	case client.KindDegraded:
		fmt.Fprintf(w, "degraded at %d: %s\n", m.Degraded.Cursor, m.Degraded.Reason)
	}
}
