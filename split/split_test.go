package split

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"transcript-bot/jobs"
	"transcript-bot/media"
)

func init() {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	Init(logger)
}

// fakeMedia simulates slicing at a fixed byte rate: the sizer reports each
// slice as duration times rate, with optional per-path overrides for
// bitrate spikes.
type fakeMedia struct {
	mu        sync.Mutex
	rate      float64
	durations map[string]float64
	spikes    map[string]int // extra sizer calls reporting an inflated size
	slices    int
}

func newFakeMedia(rate float64) *fakeMedia {
	return &fakeMedia{
		rate:      rate,
		durations: map[string]float64{},
		spikes:    map[string]int{},
	}
}

func (f *fakeMedia) slice(ctx context.Context, src, dest string, start, duration float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durations[dest] = duration
	f.slices++
	return nil
}

func (f *fakeMedia) size(path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	duration, ok := f.durations[path]
	if !ok {
		return 0, errors.New("not sliced")
	}
	if f.spikes[path] > 0 {
		f.spikes[path]--
		return int64(duration * f.rate * 3), nil
	}
	return int64(duration * f.rate), nil
}

func checkCoverage(t *testing.T, track media.AudioTrack, segments []media.Segment) {
	t.Helper()
	covered := 0.0
	for i, seg := range segments {
		if seg.Index != i {
			t.Errorf("segment %d has index %d", i, seg.Index)
		}
		if math.Abs(seg.Start-covered) > 1e-6 {
			t.Errorf("segment %d starts at %.3f, previous coverage ends at %.3f", i, seg.Start, covered)
		}
		covered += seg.Duration
	}
	if math.Abs(covered-track.Duration) > 1e-6 {
		t.Errorf("segments cover %.3fs of a %.3fs track", covered, track.Duration)
	}
}

func TestSplitShortTrackReturnsSingleSegment(t *testing.T) {
	fake := newFakeMedia(16000)
	track := media.AudioTrack{Path: "/tmp/full.mp3", Duration: 300, Bytes: 300 * 16000}
	limits := Limits{MaxSegmentBytes: 20 << 20, MaxSegmentSeconds: 1500}

	segments, err := NewWithDeps(fake.slice, fake.size).Split(context.Background(), track, limits, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	if segments[0].Path != track.Path {
		t.Error("single-segment split should reuse the track file")
	}
	if fake.slices != 0 {
		t.Errorf("short track was sliced %d times", fake.slices)
	}
	checkCoverage(t, track, segments)
}

func TestSplitFortyFiveMinuteTrackIntoTwoSegments(t *testing.T) {
	// 45 minutes at 14 kB/s is about 37.8 MB against a 20 MB limit
	const rate = 14000.0
	fake := newFakeMedia(rate)
	track := media.AudioTrack{Path: "/tmp/full.mp3", Duration: 2700, Bytes: int64(2700 * rate)}
	limits := Limits{MaxSegmentBytes: 20 << 20, MaxSegmentSeconds: 1500}

	segments, err := NewWithDeps(fake.slice, fake.size).Split(context.Background(), track, limits, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	for _, seg := range segments {
		if seg.Bytes > limits.MaxSegmentBytes {
			t.Errorf("segment %d is %d bytes, over the limit", seg.Index, seg.Bytes)
		}
	}
	checkCoverage(t, track, segments)
}

func TestSplitRespectsDurationLimit(t *testing.T) {
	// low bitrate: only the duration limit constrains the split
	fake := newFakeMedia(4000)
	track := media.AudioTrack{Path: "/tmp/full.mp3", Duration: 3600, Bytes: 3600 * 4000}
	limits := Limits{MaxSegmentBytes: 20 << 20, MaxSegmentSeconds: 600}

	segments, err := NewWithDeps(fake.slice, fake.size).Split(context.Background(), track, limits, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 6 {
		t.Fatalf("expected 6 segments, got %d", len(segments))
	}
	for _, seg := range segments {
		if seg.Duration > limits.MaxSegmentSeconds+1e-6 {
			t.Errorf("segment %d runs %.1fs, over the %gs limit", seg.Index, seg.Duration, limits.MaxSegmentSeconds)
		}
	}
	checkCoverage(t, track, segments)
}

func TestSplitHalvesOversizedSlice(t *testing.T) {
	const rate = 14000.0
	fake := newFakeMedia(rate)
	track := media.AudioTrack{Path: "/tmp/full.mp3", Duration: 2700, Bytes: int64(2700 * rate)}
	limits := Limits{MaxSegmentBytes: 20 << 20, MaxSegmentSeconds: 1500}

	// first measurement of the first slice comes back inflated, as a
	// variable-bitrate spike would
	dir := t.TempDir()
	fake.spikes[dir+"/segment_000.mp3"] = 1

	segments, err := NewWithDeps(fake.slice, fake.size).Split(context.Background(), track, limits, dir)
	if err != nil {
		t.Fatal(err)
	}
	if segments[0].Duration >= segments[1].Duration {
		t.Errorf("spiked first segment %.1fs was not halved below the second %.1fs",
			segments[0].Duration, segments[1].Duration)
	}
	for _, seg := range segments {
		if seg.Bytes > limits.MaxSegmentBytes {
			t.Errorf("segment %d is %d bytes, over the limit", seg.Index, seg.Bytes)
		}
	}
	checkCoverage(t, track, segments)
}

func TestSplitIrreducibleSegmentFails(t *testing.T) {
	fake := newFakeMedia(16000)
	track := media.AudioTrack{Path: "/tmp/full.mp3", Duration: 600, Bytes: 600 * 16000}
	limits := Limits{MaxSegmentBytes: 20 << 20, MaxSegmentSeconds: 300}

	// every measurement is over the limit, so halving runs into the floor
	size := func(path string) (int64, error) {
		return limits.MaxSegmentBytes + 1, nil
	}

	_, err := NewWithDeps(fake.slice, size).Split(context.Background(), track, limits, t.TempDir())
	if !errors.Is(err, jobs.ErrSegmentTooLarge) {
		t.Fatalf("expected segment-too-large, got %v", err)
	}
}

func TestSplitZeroDurationTrack(t *testing.T) {
	fake := newFakeMedia(16000)
	track := media.AudioTrack{Path: "/tmp/full.mp3", Duration: 0}
	limits := Limits{MaxSegmentBytes: 20 << 20, MaxSegmentSeconds: 1500}

	_, err := NewWithDeps(fake.slice, fake.size).Split(context.Background(), track, limits, t.TempDir())
	if !errors.Is(err, jobs.ErrExtractionFailed) {
		t.Fatalf("expected extraction failure, got %v", err)
	}
}
