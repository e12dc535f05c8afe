package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"transcript-bot/jobs"
	"transcript-bot/media"
	"transcript-bot/retry"
)

// coverageTolerance is the allowed drift between the sum of segment
// durations and the track duration, in seconds. Re-encoding can shift
// container durations slightly.
const coverageTolerance = 2.0

// Cache is the durable fragment store keyed by (job id, segment index).
type Cache interface {
	Get(jobID string, segmentIndex int) ([]byte, bool, error)
	Put(jobID string, segmentIndex int, payload []byte) error
}

// Orchestrator fans segments out to the transcription backend with bounded
// concurrency and reassembles a single time-ordered transcript.
type Orchestrator struct {
	backend        Backend
	cache          Cache
	poolSize       int
	policy         retry.Policy
	segmentTimeout time.Duration
}

func NewOrchestrator(backend Backend, cache Cache, poolSize, maxAttempts int, segmentTimeout time.Duration) *Orchestrator {
	if poolSize < 1 {
		poolSize = 1
	}
	return &Orchestrator{
		backend:        backend,
		cache:          cache,
		poolSize:       poolSize,
		policy:         retry.New(maxAttempts, Transient),
		segmentTimeout: segmentTimeout,
	}
}

// Run transcribes every segment and returns the assembled transcript. No
// partial transcript is ever returned: either all segments resolve or the
// job fails with the index of the offending segment. Fragments already in
// the durable cache are reused without touching the backend, which makes a
// rerun after a crash cheap.
func (o *Orchestrator) Run(ctx context.Context, jobID string, track media.AudioTrack, segments []media.Segment) (Transcript, error) {
	if len(segments) == 0 {
		return Transcript{}, fmt.Errorf("%w: no segments", jobs.ErrTranscriptionFailed)
	}

	covered := 0.0
	for _, seg := range segments {
		covered += seg.Duration
	}
	if math.Abs(covered-track.Duration) > coverageTolerance {
		return Transcript{}, fmt.Errorf("%w: segments cover %.1fs of a %.1fs track",
			jobs.ErrTranscriptionFailed, covered, track.Duration)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan media.Segment)
	results := make([]Fragment, len(segments))

	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel() // stop dispatching new segment work
	}

	workers := o.poolSize
	if workers > len(segments) {
		workers = len(segments)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seg := range work {
				if ctx.Err() != nil {
					continue // drain; the job is failing or cancelled
				}
				frag, err := o.transcribeSegment(ctx, jobID, seg)
				if err != nil {
					fail(&TranscriptionError{SegmentIndex: seg.Index, Err: err})
					continue
				}
				results[seg.Index] = frag
			}
		}()
	}

	for _, seg := range segments {
		work <- seg
	}
	close(work)
	wg.Wait() // join barrier: all in-flight calls settle before reassembly

	if firstErr != nil {
		return Transcript{}, fmt.Errorf("%w: %v", jobs.ErrTranscriptionFailed, firstErr)
	}
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}

	return assemble(track, segments, results), nil
}

// transcribeSegment resolves one segment from cache or backend, with the
// shared retry policy around the backend call.
func (o *Orchestrator) transcribeSegment(ctx context.Context, jobID string, seg media.Segment) (Fragment, error) {
	if payload, ok, err := o.cache.Get(jobID, seg.Index); err != nil {
		log.Errorln("fragment cache read failed for job", jobID, "segment", seg.Index, err)
	} else if ok {
		var frag Fragment
		if err := json.Unmarshal(payload, &frag); err == nil {
			log.Debugln("reusing cached fragment for job", jobID, "segment", seg.Index)
			frag.Index = seg.Index
			return frag, nil
		}
		log.Errorln("discarding undecodable cached fragment for job", jobID, "segment", seg.Index)
	}

	var frag Fragment
	err := o.policy.Do(ctx, func(ctx context.Context) error {
		callCtx := ctx
		if o.segmentTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, o.segmentTimeout)
			defer cancel()
		}
		result, err := o.backend.Transcribe(callCtx, seg.Path)
		if err != nil {
			return err
		}
		frag = result
		return nil
	})
	if err != nil {
		return Fragment{}, err
	}

	frag.Index = seg.Index
	if payload, err := json.Marshal(frag); err == nil {
		if err := o.cache.Put(jobID, seg.Index, payload); err != nil {
			log.Errorln("fragment cache write failed for job", jobID, "segment", seg.Index, err)
		}
	}
	return frag, nil
}

// assemble orders fragments strictly by segment index and translates
// segment-relative utterance times to job-absolute ones by adding the
// segment's start offset. Utterances straddling a segment cut are not
// stitched across the boundary; each side keeps its own timing.
func assemble(track media.AudioTrack, segments []media.Segment, results []Fragment) Transcript {
	transcript := Transcript{Duration: track.Duration}
	for _, seg := range segments {
		frag := results[seg.Index]
		frag.Index = seg.Index
		if len(frag.Utterances) == 0 && frag.Text != "" {
			// text-only backend response: pin the whole fragment to the
			// segment's span
			frag.Utterances = []Utterance{{Start: 0, End: seg.Duration, Text: frag.Text}}
		}
		for i := range frag.Utterances {
			frag.Utterances[i].Start += seg.Start
			frag.Utterances[i].End += seg.Start
		}
		transcript.Fragments = append(transcript.Fragments, frag)
	}
	return transcript
}
