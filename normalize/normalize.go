package normalize

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"transcript-bot/jobs"
	"transcript-bot/media"
)

// Fetcher resolves a remote link into a local media file inside destDir.
type Fetcher interface {
	Download(ctx context.Context, url, destDir string) (string, error)
}

// Normalizer turns a job's source reference into a canonical AudioTrack:
// mp3, 24kHz, stereo downmix. 24kHz keeps speech quality while holding the
// encoded size down for segment limits.
type Normalizer struct {
	fetcher Fetcher
}

func New(fetcher Fetcher) *Normalizer {
	return &Normalizer{fetcher: fetcher}
}

// Normalize produces the job's AudioTrack inside tempDir. Remote links are
// downloaded first; a broken link fails the job before any transcription
// backend is touched.
func (n *Normalizer) Normalize(ctx context.Context, sourceRef, sourceKind, tempDir string) (media.AudioTrack, error) {
	srcPath := sourceRef
	if sourceKind == jobs.SourceLink {
		downloaded, err := n.fetcher.Download(ctx, sourceRef, tempDir)
		if err != nil {
			return media.AudioTrack{}, fmt.Errorf("%w: %s", jobs.ErrSourceUnavailable, sourceRef)
		}
		srcPath = downloaded
	}

	probed, err := media.Probe(srcPath)
	if err != nil {
		return media.AudioTrack{}, fmt.Errorf("%w: cannot probe source", jobs.ErrUnsupportedFormat)
	}
	if !probed.HasAudio {
		return media.AudioTrack{}, fmt.Errorf("%w: no audio stream", jobs.ErrUnsupportedFormat)
	}
	if probed.Duration <= 0 {
		return media.AudioTrack{}, fmt.Errorf("%w: zero duration", jobs.ErrUnsupportedFormat)
	}

	channels := 2
	if probed.Channels == 1 {
		channels = 1
	}

	outPath := filepath.Join(tempDir, fmt.Sprintf("%s.mp3", uuid.Must(uuid.NewV7()).String()))
	_, _, err = Ffmpeg(ctx, "-i", srcPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-ac", fmt.Sprintf("%d", channels),
		"-ar", "24000",
		"-b:a", "128k",
		"-y",
		outPath)
	if err != nil {
		return media.AudioTrack{}, fmt.Errorf("%w: ffmpeg conversion", jobs.ErrExtractionFailed)
	}

	// re-probe the artifact; a corrupt source can yield an empty output
	// without ffmpeg reporting failure
	outProbed, err := media.Probe(outPath)
	if err != nil || outProbed.Duration <= 0 {
		return media.AudioTrack{}, fmt.Errorf("%w: empty output", jobs.ErrExtractionFailed)
	}
	size, err := media.Size(outPath)
	if err != nil {
		return media.AudioTrack{}, fmt.Errorf("%w: stat output", jobs.ErrExtractionFailed)
	}

	track := media.AudioTrack{
		Path:     outPath,
		Duration: outProbed.Duration,
		Channels: outProbed.Channels,
		Codec:    outProbed.Codec,
		Bytes:    size,
	}
	log.Infof("normalized %s: %.1fs, %d channels, %d bytes", srcPath, track.Duration, track.Channels, track.Bytes)
	return track, nil
}
