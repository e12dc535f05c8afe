package structure

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"transcript-bot/jobs"
	"transcript-bot/transcribe"
)

// ContentType classes a recording by what kind of speech it holds.
const (
	ClassMeeting = "meeting"
	ClassCourse  = "course"
	ClassOther   = "other"
)

// Meta describes the recording itself, independent of its content.
type Meta struct {
	Title    string
	Author   string
	Date     string
	Link     string
	Duration float64
}

// Section is one topical span of the recording with absolute times.
type Section struct {
	Title       string  `json:"title"`
	StartSec    float64 `json:"start_sec"`
	EndSec      float64 `json:"end_sec"`
	Description string  `json:"description"`
}

// Result is the validated structuring output for a transcript.
type Result struct {
	ContentType string    `json:"content_type"`
	Confidence  float64   `json:"confidence"`
	Rationale   string    `json:"rationale"`
	Sections    []Section `json:"sections"`
	KeyPoints   []string  `json:"key_points"`
	Quotes      []string  `json:"quotes"`
	Summary     string    `json:"summary"`
}

// instruction is the fixed structuring template. It never varies per call;
// the transcript and metadata travel in the user message.
const instruction = `You analyze a timestamped transcript of a recording and produce structured notes.

Classify the content as exactly one of: "meeting", "course", "other".

Respond with strict JSON only, no prose, no code fences, matching this shape:
{
  "content_type": "meeting" | "course" | "other",
  "confidence": 0.0-1.0,
  "rationale": "one sentence on why this class",
  "sections": [
    {"title": "...", "start_sec": 0, "end_sec": 0, "description": "..."}
  ],
  "key_points": ["..."],
  "quotes": ["..."],
  "summary": "..."
}

Rules:
- Section times are in seconds, relative to the start of the recording.
- Sections must be in chronological order, must not overlap, and must stay
  within the duration of the recording.
- Use the language of the transcript for all text fields.
- key_points are the decisions, action items or main ideas.
- quotes are short verbatim excerpts worth keeping.`

// Structurer runs one classification-and-structuring call against the
// generative backend and validates what comes back.
type Structurer struct {
	gen Generative
}

func New(gen Generative) *Structurer {
	return &Structurer{gen: gen}
}

// Structure classifies and structures a transcript. An invalid response gets
// exactly one corrective retry with the violation appended; a second invalid
// response fails the call. The transcript itself is never modified, so the
// caller can keep it when structuring fails.
func (s *Structurer) Structure(ctx context.Context, transcript transcribe.Transcript, meta Meta) (Result, error) {
	user := buildUserMessage(transcript, meta)

	raw, err := s.gen.Complete(ctx, instruction, user)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", jobs.ErrStructuringFailed, err)
	}

	result, violation := parseAndValidate(raw, transcript.Duration)
	if violation == "" {
		return result, nil
	}

	log.Warnln("structuring response invalid, retrying once:", violation)
	retryUser := user + "\n\nYour previous response was invalid: " + violation +
		"\nRespond again with corrected strict JSON."
	raw, err = s.gen.Complete(ctx, instruction, retryUser)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", jobs.ErrStructuringFailed, err)
	}

	result, violation = parseAndValidate(raw, transcript.Duration)
	if violation != "" {
		return Result{}, fmt.Errorf("%w: %s", jobs.ErrStructuringFailed, violation)
	}
	return result, nil
}

func buildUserMessage(transcript transcribe.Transcript, meta Meta) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", meta.Title)
	if meta.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", meta.Author)
	}
	if meta.Date != "" {
		fmt.Fprintf(&b, "Date: %s\n", meta.Date)
	}
	fmt.Fprintf(&b, "Duration: %s\n\n", transcribe.FormatTimestamp(meta.Duration))
	b.WriteString("Transcript:\n")
	b.WriteString(transcript.Timestamped())
	return b.String()
}

// parseAndValidate returns the decoded result and an empty violation string,
// or a zero result and a description of the first violation found.
func parseAndValidate(raw string, duration float64) (Result, string) {
	cleaned := stripFences(raw)

	var result Result
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return Result{}, fmt.Sprintf("response is not valid JSON: %v", err)
	}

	switch result.ContentType {
	case ClassMeeting, ClassCourse, ClassOther:
	default:
		return Result{}, fmt.Sprintf("content_type %q is not one of meeting, course, other", result.ContentType)
	}

	prevEnd := 0.0
	for i, sec := range result.Sections {
		if sec.StartSec < 0 || sec.EndSec > duration {
			return Result{}, fmt.Sprintf("section %d range %.0f-%.0f is outside 0-%.0f",
				i, sec.StartSec, sec.EndSec, duration)
		}
		if sec.EndSec < sec.StartSec {
			return Result{}, fmt.Sprintf("section %d ends before it starts", i)
		}
		if sec.StartSec < prevEnd {
			return Result{}, fmt.Sprintf("section %d overlaps the previous section", i)
		}
		prevEnd = sec.EndSec
	}

	return result, ""
}

// stripFences tolerates a fenced JSON block despite the instruction
// forbidding it; models do it anyway.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
