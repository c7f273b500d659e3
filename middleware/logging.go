package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/JadKHaddad-ORG/JobHub/job"
)

// Logging logs the start and the end of every attempt. Attempts that
// end in error log at warn, except cancellations which are expected.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		l := logger.With(
			slog.String("job_id", j.ID.String()),
			slog.String("unit", j.Spec.Unit()),
			slog.Int("attempt", j.Attempt),
		)
		l.Info("job started", slog.String("owner", j.Owner))

		start := time.Now()
		err := next(ctx)
		attrs := []slog.Attr{
			slog.Duration("elapsed", time.Since(start)),
			slog.String("outcome", string(Classify(ctx, err))),
		}

		switch Classify(ctx, err) {
		case OutcomeOK:
			l.LogAttrs(ctx, slog.LevelInfo, "job finished", attrs...)
		case OutcomeCancelled:
			l.LogAttrs(ctx, slog.LevelInfo, "job cancelled", attrs...)
		default:
			attrs = append(attrs, slog.String("error", err.Error()))
			l.LogAttrs(ctx, slog.LevelWarn, "job failed", attrs...)
		}
		return err
	}
}
