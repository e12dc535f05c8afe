package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const transcriptionEndpoint = "https://api.openai.com/v1/audio/transcriptions"

// openAIBackend calls the OpenAI speech-to-text API with verbose_json so
// per-utterance timestamps come back with the text.
type openAIBackend struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewOpenAIBackend builds the remote transcription backend.
func NewOpenAIBackend(apiKey, model string) Backend {
	return &openAIBackend{
		apiKey:   apiKey,
		model:    model,
		endpoint: transcriptionEndpoint,
		client:   &http.Client{},
	}
}

type openAIVerboseResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (o *openAIBackend) Transcribe(ctx context.Context, audioPath string) (Fragment, error) {
	if strings.TrimSpace(o.apiKey) == "" {
		return Fragment{}, &backendError{msg: "openai api key is not configured", transient: false}
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return Fragment{}, &backendError{msg: "open segment audio", transient: false, err: err}
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", o.model); err != nil {
		return Fragment{}, &backendError{msg: "write model field", transient: false, err: err}
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return Fragment{}, &backendError{msg: "write response_format field", transient: false, err: err}
	}
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return Fragment{}, &backendError{msg: "create multipart file", transient: false, err: err}
	}
	if _, err := io.Copy(part, f); err != nil {
		return Fragment{}, &backendError{msg: "copy audio data", transient: false, err: err}
	}
	if err := writer.Close(); err != nil {
		return Fragment{}, &backendError{msg: "close multipart writer", transient: false, err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, body)
	if err != nil {
		return Fragment{}, &backendError{msg: "create transcription request", transient: false, err: err}
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		// network errors and context deadlines are worth another attempt
		transient := !errors.Is(err, context.Canceled)
		return Fragment{}, &backendError{msg: "transcription request failed", transient: transient, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return Fragment{}, decodeAPIError(resp)
	}

	var payload openAIVerboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Fragment{}, &backendError{msg: "decode transcription response", transient: false, err: err}
	}

	frag := Fragment{Text: strings.TrimSpace(payload.Text)}
	for _, s := range payload.Segments {
		frag.Utterances = append(frag.Utterances, Utterance{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		})
	}
	return frag, nil
}

// decodeAPIError classifies an HTTP failure and keeps the raw payload out of
// anything user-facing; it only reaches the logs.
func decodeAPIError(resp *http.Response) error {
	transient := resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= http.StatusInternalServerError

	var apiErr struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
		log.Errorf("openai api error: status %d type %s message %s",
			resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
	} else {
		log.Errorf("openai api error: status %d body %s", resp.StatusCode, string(raw))
	}

	return &backendError{
		msg:       fmt.Sprintf("openai api status %d", resp.StatusCode),
		transient: transient,
	}
}
