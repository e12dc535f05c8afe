package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// whisperCppBackend transcribes through the local whisper.cpp CLI with JSON
// output for utterance timings.
type whisperCppBackend struct {
	binaryPath string
	modelPath  string
}

// NewWhisperCppBackend builds the local transcription backend. modelPath
// points at a ggml/gguf model file.
func NewWhisperCppBackend(modelPath string) Backend {
	return &whisperCppBackend{
		binaryPath: "whisper.cpp",
		modelPath:  modelPath,
	}
}

type whisperCppOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"` // milliseconds
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func (w *whisperCppBackend) Transcribe(ctx context.Context, audioPath string) (Fragment, error) {
	if _, err := os.Stat(w.modelPath); err != nil {
		return Fragment{}, &backendError{msg: fmt.Sprintf("cannot access model path: %s", w.modelPath), transient: false, err: err}
	}

	outBase := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))
	args := []string{
		"-m", w.modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
	}

	log.Infoln(w.binaryPath, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, w.binaryPath, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		log.Errorf("whisper.cpp error: %v", err)
		log.Debugln("stderr:", stderr.String())
		transient := errors.Is(ctx.Err(), context.DeadlineExceeded)
		return Fragment{}, &backendError{msg: "whisper.cpp transcription failed", transient: transient, err: err}
	}

	jsonPath := outBase + ".json"
	defer os.Remove(jsonPath)
	content, err := os.ReadFile(jsonPath)
	if err != nil {
		return Fragment{}, &backendError{msg: "whisper.cpp completed but JSON output is missing", transient: false, err: err}
	}

	var parsed whisperCppOutput
	if err := json.Unmarshal(content, &parsed); err != nil {
		return Fragment{}, &backendError{msg: "parse whisper.cpp output", transient: false, err: err}
	}

	frag := Fragment{}
	var texts []string
	for _, t := range parsed.Transcription {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		texts = append(texts, text)
		frag.Utterances = append(frag.Utterances, Utterance{
			Start: float64(t.Offsets.From) / 1000,
			End:   float64(t.Offsets.To) / 1000,
			Text:  text,
		})
	}
	frag.Text = strings.Join(texts, " ")
	return frag, nil
}
