package realtime

// Event names published on the tenant channel.
const (
	EventJobCreated  = "job_created"
	EventJobProgress = "job_progress"
	EventJobFailed   = "job_failed"
	EventJobDone     = "job_done"
)

// Message is the wire shape pushed through the bus to interested clients.
type Message struct {
	Channel string         `json:"channel"`
	Event   string         `json:"event"`
	Data    map[string]any `json:"data,omitempty"`
}
