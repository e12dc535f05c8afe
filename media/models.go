package media

// AudioTrack is the normalized audio derived from a job's source: mp3,
// 24kHz, downmixed to at most two channels.
type AudioTrack struct {
	Path     string
	Duration float64 // seconds
	Channels int
	Codec    string
	Bytes    int64
}

// Segment is a bounded slice of an AudioTrack. Segments are time-contiguous,
// non-overlapping and ordered by Index; each respects the transcription
// backend's size and duration limits.
type Segment struct {
	Index    int
	Start    float64 // seconds from track start
	Duration float64 // seconds
	Path     string
	Bytes    int64
}
