package split

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"transcript-bot/jobs"
	"transcript-bot/media"
	"transcript-bot/normalize"
)

var log *logrus.Logger

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "split",
	}).Logger
	return nil
}

// Limits are the transcription backend's per-segment constraints.
type Limits struct {
	MaxSegmentBytes   int64
	MaxSegmentSeconds float64
}

// minSegmentSeconds is the irreducible slice floor. A slice this short that
// still exceeds the byte limit cannot be split further.
const minSegmentSeconds = 5.0

// safetyFactor shrinks the estimated segment duration so that ordinary
// bitrate variance rarely forces a re-split.
const safetyFactor = 0.95

// slicer materializes [start, start+duration) of src into dest.
type slicer func(ctx context.Context, src, dest string, start, duration float64) error

// sizer returns the encoded byte size of path.
type sizer func(path string) (int64, error)

type Splitter struct {
	slice slicer
	size  sizer
}

func New() *Splitter {
	return &Splitter{
		slice: ffmpegSlice,
		size:  media.Size,
	}
}

// NewWithDeps constructs a splitter with injectable dependencies.
func NewWithDeps(slice slicer, size sizer) *Splitter {
	return &Splitter{slice: slice, size: size}
}

// Split partitions the track into ordered, contiguous segments that each
// respect the limits. Segment offsets cover the track exactly: no gaps, no
// overlaps. The estimated bytes-per-second rate can be wrong for variable
// bitrate audio, so every materialized slice is re-measured and halved until
// it fits.
func (s *Splitter) Split(ctx context.Context, track media.AudioTrack, limits Limits, destDir string) ([]media.Segment, error) {
	if track.Duration <= 0 {
		return nil, fmt.Errorf("%w: track has no duration", jobs.ErrExtractionFailed)
	}

	rate := float64(track.Bytes) / track.Duration // bytes per second
	candidate := limits.MaxSegmentSeconds
	if byBytes := float64(limits.MaxSegmentBytes) / rate * safetyFactor; byBytes < candidate {
		candidate = byBytes
	}
	if candidate < minSegmentSeconds {
		candidate = minSegmentSeconds
	}

	// a track that fits in one segment is returned whole
	if track.Duration <= candidate && track.Bytes <= limits.MaxSegmentBytes {
		return []media.Segment{{
			Index:    0,
			Start:    0,
			Duration: track.Duration,
			Path:     track.Path,
			Bytes:    track.Bytes,
		}}, nil
	}

	var segments []media.Segment
	start := 0.0
	for start < track.Duration {
		duration := candidate
		if remaining := track.Duration - start; remaining < duration {
			duration = remaining
		}

		index := len(segments)
		seg, err := s.materialize(ctx, track, index, start, duration, limits, destDir)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
		start += seg.Duration
	}

	log.Infof("split %.1fs track into %d segments", track.Duration, len(segments))
	return segments, nil
}

// materialize slices one segment and shrinks it until the encoded size fits.
func (s *Splitter) materialize(ctx context.Context, track media.AudioTrack, index int, start, duration float64, limits Limits, destDir string) (media.Segment, error) {
	dest := filepath.Join(destDir, fmt.Sprintf("segment_%03d.mp3", index))

	for {
		if err := s.slice(ctx, track.Path, dest, start, duration); err != nil {
			return media.Segment{}, fmt.Errorf("%w: slice segment %d", jobs.ErrExtractionFailed, index)
		}
		size, err := s.size(dest)
		if err != nil {
			return media.Segment{}, fmt.Errorf("%w: stat segment %d", jobs.ErrExtractionFailed, index)
		}
		if size <= limits.MaxSegmentBytes {
			return media.Segment{
				Index:    index,
				Start:    start,
				Duration: duration,
				Path:     dest,
				Bytes:    size,
			}, nil
		}

		log.Debugf("segment %d: %d bytes exceeds limit %d, halving %.1fs slice",
			index, size, limits.MaxSegmentBytes, duration)
		duration = duration / 2
		if duration < minSegmentSeconds {
			return media.Segment{}, fmt.Errorf("%w: segment %d irreducible below %v s",
				jobs.ErrSegmentTooLarge, index, minSegmentSeconds)
		}
	}
}

func ffmpegSlice(ctx context.Context, src, dest string, start, duration float64) error {
	_, _, err := normalize.Ffmpeg(ctx, "-i", src,
		"-ss", fmt.Sprintf("%f", start),
		"-t", fmt.Sprintf("%f", duration),
		"-c", "copy",
		"-y",
		dest)
	return err
}
