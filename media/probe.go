package media

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// runs ffprobe with the provided args and returns (stdout, stderr, error)
func Ffprobe(args ...string) ([]byte, []byte, error) {
	ffprobe := "ffprobe"
	log.Infoln(ffprobe, strings.Join(args, " "))
	cmd := exec.Command(ffprobe, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	if err != nil {
		log.Errorf("ffprobe error: %v", err)
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Channels  int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeResult describes the first audio stream of a file.
type ProbeResult struct {
	Duration float64
	Channels int
	Codec    string
	HasAudio bool
}

func Probe(path string) (ProbeResult, error) {
	output, _, err := Ffprobe("-v", "quiet", "-print_format", "json",
		"-show_streams", "-show_format", path)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(output, &probed); err != nil {
		return ProbeResult{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	result := ProbeResult{}
	for _, stream := range probed.Streams {
		if stream.CodecType == "audio" {
			result.HasAudio = true
			result.Channels = stream.Channels
			result.Codec = stream.CodecName
			break
		}
	}

	if probed.Format.Duration != "" {
		duration, err := strconv.ParseFloat(strings.TrimSpace(probed.Format.Duration), 64)
		if err != nil {
			return ProbeResult{}, fmt.Errorf("parse duration %q: %w", probed.Format.Duration, err)
		}
		result.Duration = duration
	}

	return result, nil
}

// Duration returns the container duration in seconds.
func Duration(path string) (float64, error) {
	stdout, _, err := Ffprobe("-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	if err != nil {
		return 0, err
	}
	durationStr := strings.TrimSpace(string(stdout))
	duration, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", durationStr, err)
	}
	return duration, nil
}

// Size returns the file size in bytes.
func Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
