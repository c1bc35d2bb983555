package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies an image-generation backend.
type Kind string

const (
	KindFireworks Kind = "fireworks"
	KindTTAPI     Kind = "ttapi"
	KindHorde     Kind = "horde"
	KindVolcano   Kind = "volcano"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrNotPollable is returned by Poll on providers that answer synchronously.
	ErrNotPollable = errors.New("provider does not support polling")
)

// ParseKind maps a client-supplied provider name onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindFireworks, KindTTAPI, KindHorde, KindVolcano:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// Request is a fully resolved generation request: the prompt is already
// composed and the aspect ratio already mapped to pixel dimensions.
type Request struct {
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	Width          int
	Height         int
	Model          string
	// ReferenceImage is a base64 image used by providers that support img2img.
	ReferenceImage    string
	ReferenceStrength float64
}

// Submission is either a set of images (synchronous providers) or a job id
// to poll.
type Submission struct {
	JobID  string
	Images []string
}

// Done reports whether the submission already carries its result.
func (s *Submission) Done() bool { return s.JobID == "" }

type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Status is one normalized poll observation.
type Status struct {
	State    JobState
	Images   []string
	Reason   string
	Censored bool
}

// Terminal reports whether no further polling is needed.
func (s *Status) Terminal() bool {
	return s.State == JobSucceeded || s.State == JobFailed
}

// PollPolicy bounds the wait for an asynchronous job. A zero MaxAttempts
// means the job is bounded by Timeout alone.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

// Provider is the capability every backend implements.
type Provider interface {
	Kind() Kind
	// Paid reports whether generations on this provider cost credits.
	Paid() bool
	Submit(ctx context.Context, req Request) (*Submission, error)
	Poll(ctx context.Context, jobID string) (*Status, error)
	PollPolicy() PollPolicy
}

// UpstreamError is returned when a provider is unreachable or answers with a
// non-2xx status. StatusCode is zero when no response was received.
type UpstreamError struct {
	Provider   Kind
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("%s: request failed: %v", e.Provider, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }
