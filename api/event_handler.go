package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/stream"
	"github.com/JadKHaddad-ORG/JobHub/wire"
)

// events streams subscription messages as server-sent events. The query
// takes job (an id or "*"), after, and output=true for process output.
// A Last-Event-ID header or an after parameter resumes from that sequence
// number.
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobID, err := wire.ParseTarget(q.Get("job"))
	if err != nil {
		writeError(w, jobhub.Invalid("job", "%v", err))
		return
	}

	opts := stream.SubscribeOptions{}
	after := q.Get("after")
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		after = last
	}
	if after != "" {
		seq, err := strconv.ParseUint(after, 10, 64)
		if err != nil {
			writeError(w, jobhub.Invalid("after", "want a sequence number"))
			return
		}
		opts = stream.SubscribeOptions{Resume: true, After: seq}
	}
	output, _ := strconv.ParseBool(q.Get("output"))

	sub, err := a.hub.Subscribe(r.Context(), owner(r), stream.Filter{JobID: jobID, Output: output}, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	defer a.hub.Unsubscribe(sub)

	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		a.logger.Warn("sse: streaming unsupported")
		return
	}

	ticker := time.NewTicker(a.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case m, ok := <-sub.C():
			if !ok {
				if errors.Is(sub.Err(), stream.ErrDegraded) {
					_ = writeSSE(w, "", wire.MethodDegraded, wire.Degraded{
						Cursor: sub.Cursor(),
						Reason: sub.Err().Error(),
					})
					_ = rc.Flush()
				}
				return
			}
			if err := writeMessage(w, m); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeMessage(w http.ResponseWriter, m *stream.Message) error {
	switch m.Kind {
	case stream.KindEvent:
		return writeSSE(w, strconv.FormatUint(m.Event.Seq, 10), wire.MethodEvent, m.Event)
	case stream.KindOutput:
		return writeSSE(w, "", wire.MethodOutput, m.Output)
	case stream.KindGap:
		return writeSSE(w, "", wire.MethodGap, m.Gap)
	default:
		return nil
	}
}

// writeSSE writes one event. Only sequenced events carry an id, so a
// reconnecting browser resumes from the last job event it saw.
func writeSSE(w http.ResponseWriter, eventID, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if eventID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", eventID); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
