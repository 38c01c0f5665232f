package collector

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SourceType names a review provider or channel contributing to a job.
type SourceType string

// Known source types.
const (
	SourceTrustpilot  SourceType = "trustpilot"
	SourceGoogle      SourceType = "google"
	SourceTripadvisor SourceType = "tripadvisor"
	SourceAmazon      SourceType = "amazon"
	SourceDruni       SourceType = "druni"
	SourceMyBusiness  SourceType = "mybusiness"
	SourceProducts    SourceType = "products"
)

// SourceMode selects how a source is executed.
type SourceMode string

// Supported execution modes.
const (
	// ModeLocal runs the scraping collaborator in-process and reports directly.
	ModeLocal SourceMode = "local"
	// ModeProvider triggers an external provider and waits for its webhook.
	ModeProvider SourceMode = "provider"
)

// ParseSourceMode validates a configured mode string.
func ParseSourceMode(raw string) (SourceMode, error) {
	switch SourceMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeLocal:
		return ModeLocal, nil
	case ModeProvider:
		return ModeProvider, nil
	default:
		return "", fmt.Errorf("unknown source mode %q", raw)
	}
}

// SourceConfig describes one source to collect for a job.
type SourceConfig struct {
	Type        SourceType `json:"type"`
	URLs        []string   `json:"urls,omitempty"`
	Identifiers []string   `json:"identifiers,omitempty"`
	Countries   []string   `json:"countries,omitempty"`
	Keyword     string     `json:"keyword,omitempty"`
}

// Credentials carries caller identity forwarded to collaborators.
type Credentials struct {
	UserID    string `json:"user_id,omitempty"`
	BrandName string `json:"brand_name,omitempty"`
}

// Task is a single unit of work queued for a worker.
type Task struct {
	JobID       string       `json:"job_id"`
	Source      SourceConfig `json:"source"`
	Credentials Credentials  `json:"credentials"`
	Attempt     int          `json:"attempt"`
	Submitted   int64        `json:"submitted"`
}

// JobRequest is the caller-facing description of a multi-source job.
type JobRequest struct {
	JobID       string
	Credentials Credentials
	Sources     []SourceConfig
}

// Correlation maps a provider-issued id back to the originating job.
type Correlation struct {
	JobID    string
	Metadata map[string]string
}

// SourceType returns the source recorded in the metadata, if any.
func (c Correlation) SourceType() SourceType {
	if c.Metadata == nil {
		return ""
	}
	return SourceType(c.Metadata[MetaSourceType])
}

// Correlation metadata keys.
const (
	MetaUserID     = "user_id"
	MetaBrandName  = "brand_name"
	MetaSourceType = "source_type"
)

// JobState is a read-only view of in-flight fan-in state.
type JobState struct {
	JobID     string
	Expected  int
	Completed int
	Results   map[SourceType]Result
}

// RecordOutcome reports what a single completion did to job state.
type RecordOutcome struct {
	// Found is false when the job is unknown or already finalized.
	Found bool
	// Counted is true when the source slot was new and the counter moved.
	Counted   bool
	Completed int
	Expected  int
	// Finalized is true for exactly one caller per job.
	Finalized bool
	// Results is populated only when Finalized is true.
	Results map[SourceType]Result
}

// Completion is handed to finalizers once a job has all its results.
type Completion struct {
	JobID      string                `json:"job_id"`
	Expected   int                   `json:"expected"`
	Results    map[SourceType]Result `json:"results"`
	FinishedAt time.Time             `json:"finished_at"`
}

// Failed counts error results in the completion.
func (c Completion) Failed() int {
	n := 0
	for _, r := range c.Results {
		if r.IsError() {
			n++
		}
	}
	return n
}

// Attributes labels completion messages so subscribers can filter without
// decoding the body.
func (c Completion) Attributes() map[string]string {
	return map[string]string{
		"job_id":   c.JobID,
		"expected": strconv.Itoa(c.Expected),
		"failed":   strconv.Itoa(c.Failed()),
	}
}

// TriggerRequest carries everything a provider needs to start a collection.
type TriggerRequest struct {
	JobID       string
	Source      SourceConfig
	Targets     []string
	CallbackURL string
	AuthHeader  string
}
