package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Utterance is one timed span of speech. Times are relative to the segment
// the backend transcribed until the orchestrator offsets them.
type Utterance struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Fragment is the transcription result for one segment.
type Fragment struct {
	Index      int         `json:"index"`
	Text       string      `json:"text"`
	Utterances []Utterance `json:"utterances,omitempty"`
}

// Transcript is the ordered concatenation of all fragments for a job, with
// utterance times made job-absolute.
type Transcript struct {
	Duration  float64
	Fragments []Fragment
}

// Text returns the plain transcript text.
func (t Transcript) Text() string {
	parts := make([]string, 0, len(t.Fragments))
	for _, f := range t.Fragments {
		if s := strings.TrimSpace(f.Text); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// Timestamped renders the transcript with [MM:SS] prefixes, the form handed
// to the structuring backend.
func (t Transcript) Timestamped() string {
	var b strings.Builder
	for _, f := range t.Fragments {
		for _, u := range f.Utterances {
			fmt.Fprintf(&b, "[%s] %s\n", FormatTimestamp(u.Start), strings.TrimSpace(u.Text))
		}
	}
	return b.String()
}

// FormatTimestamp renders seconds as MM:SS, or HH:MM:SS past an hour.
func FormatTimestamp(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// Backend is a pluggable transcription backend. Implementations return
// backendError so the orchestrator can tell transient failures from
// permanent ones.
type Backend interface {
	Transcribe(ctx context.Context, audioPath string) (Fragment, error)
}

type backendError struct {
	msg       string
	transient bool
	err       error
}

func (e *backendError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *backendError) Unwrap() error { return e.err }

// Transient reports whether an error is worth retrying: rate limits,
// timeouts and server-side failures are; authentication and malformed-input
// failures are not.
func Transient(err error) bool {
	var be *backendError
	if errors.As(err, &be) {
		return be.transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// TranscriptionError records which segment failed the job.
type TranscriptionError struct {
	SegmentIndex int
	Err          error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed at segment %d: %v", e.SegmentIndex, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
