package domain

// RunStatus is the lifecycle state of a persisted pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// TranscriptItem is a single persisted message of a run.
type TranscriptItem struct {
	PK      string
	SK      string
	RunID   string
	Seq     int
	Node    string
	Message Message
	TTL     int64

	// Truncated is set when content or arguments were cut to fit the store.
	Truncated bool
}

// RunMeta stores aggregate run state.
type RunMeta struct {
	PK           string
	SK           string
	RunID        string
	Tables       []string
	Question     string
	Status       RunStatus
	FinalAnswer  string
	Charts       []string
	Steps        int
	Error        string
	LastActivity string
	TTL          int64
}
