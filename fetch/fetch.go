package fetch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// runs yt-dlp with the provided args and returns (stdout, stderr, error)
func Run(ctx context.Context, args ...string) ([]byte, []byte, error) {
	ytdlp := "yt-dlp"
	log.Infoln(ytdlp, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, ytdlp, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	if err != nil {
		log.Errorf("yt-dlp error: %v", err)
		log.Debugln("stderr:", stderr.String())
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

// YtDlp downloads remote video links through the local yt-dlp binary.
type YtDlp struct{}

func NewYtDlp() *YtDlp {
	return &YtDlp{}
}

// Download fetches the best audio-only stream for url into destDir and
// returns the local file path.
func (y *YtDlp) Download(ctx context.Context, url, destDir string) (string, error) {
	outPath := filepath.Join(destDir, fmt.Sprintf("%s.m4a", uuid.Must(uuid.NewV7()).String()))
	_, stderr, err := Run(ctx,
		"-f", "bestaudio/best",
		"-x", "--audio-format", "m4a",
		"--no-playlist",
		"--no-warnings",
		"--retries", "3",
		"-o", outPath,
		url)
	if err != nil {
		return "", fmt.Errorf("yt-dlp download: %w: %s", err, strings.TrimSpace(string(stderr)))
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("yt-dlp completed but output file is missing")
	}
	return outPath, nil
}

// Title returns the remote video's title, or an empty string when the probe
// fails. A missing title never fails the job.
func (y *YtDlp) Title(ctx context.Context, url string) string {
	stdout, _, err := Run(ctx, "--simulate", "--print", "%(title)s", "--no-warnings", url)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(stdout))
}
