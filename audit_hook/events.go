package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobSubmitted = "job.submitted"
	ActionJobStarted   = "job.started"
	ActionJobSucceeded = "job.succeeded"
	ActionJobFailed    = "job.failed"
	ActionJobRetrying  = "job.retrying"
	ActionJobCancelled = "job.cancelled"
	ActionHubShutdown  = "hub.shutdown"
)

// Audit event categories group related actions.
const (
	CategoryJob = "jobhub.job"
	CategoryHub = "jobhub.hub"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob = "job"
	ResourceHub = "hub"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobSubmitted,
		ActionJobStarted,
		ActionJobSucceeded,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobCancelled,
		ActionHubShutdown,
	}
}
