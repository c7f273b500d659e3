// Package audithook is a JobHub extension that turns job lifecycle events
// into audit records.
//
// Every lifecycle hook emits a structured [AuditEvent] through the
// [Recorder] interface. Severity follows the outcome: info for normal
// progress, warning for retries and cancellations, critical for terminal
// failures.
//
// # Usage
//
//	h, _ := hub.New(s,
//	    hub.WithExtension(audithook.New(audithook.NewLogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobCancelled,
//	    ),
//	)
package audithook
