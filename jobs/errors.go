package jobs

import "errors"

// Pipeline error taxonomy. Every terminal failure of a job wraps exactly one
// of these so handlers can report the failing stage without leaking raw
// backend payloads.
var (
	ErrSourceUnavailable   = errors.New("source unavailable")
	ErrUnsupportedFormat   = errors.New("unsupported format")
	ErrExtractionFailed    = errors.New("extraction failed")
	ErrSegmentTooLarge     = errors.New("segment too large")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrStructuringFailed   = errors.New("structuring failed")
	ErrDeliveryFailed      = errors.New("delivery failed")
)

// UserMessage maps a pipeline error to the user-facing text stored on the job.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrSourceUnavailable):
		return "The media source could not be reached. Check the link and try again."
	case errors.Is(err, ErrUnsupportedFormat):
		return "The media format is not supported or contains no audio."
	case errors.Is(err, ErrExtractionFailed):
		return "Audio could not be extracted from the media."
	case errors.Is(err, ErrSegmentTooLarge):
		return "The audio could not be split into segments small enough for the transcription backend."
	case errors.Is(err, ErrTranscriptionFailed):
		return "Transcription failed."
	case errors.Is(err, ErrStructuringFailed):
		return "Note structuring failed. The raw transcript has been kept."
	case errors.Is(err, ErrDeliveryFailed):
		return "The note was generated but could not be delivered yet."
	default:
		return "Processing failed."
	}
}
