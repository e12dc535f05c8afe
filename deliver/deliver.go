// Package deliver pushes finished notes to Telegram: the note text to the
// group chat, and the PDF document to the note-taking relay bot.
package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"transcript-bot/jobs"
)

const telegramBaseURL = "https://api.telegram.org"

// telegram caps message text at 4096 characters
const maxMessageLen = 4096

type Sender struct {
	botToken      string
	relayBotToken string
	groupChatID   string
	relayChatID   string
	baseURL       string
	client        *http.Client
}

func NewSender(botToken, groupChatID, relayBotToken, relayChatID string) *Sender {
	return &Sender{
		botToken:      botToken,
		relayBotToken: relayBotToken,
		groupChatID:   groupChatID,
		relayChatID:   relayChatID,
		baseURL:       telegramBaseURL,
		client:        &http.Client{},
	}
}

// SendNote posts the note text to the group chat, split into chunks under
// the Telegram message limit. Chunks split on line boundaries where
// possible so a section heading does not get cut mid-word.
func (s *Sender) SendNote(ctx context.Context, markdown string) error {
	if s.botToken == "" || s.groupChatID == "" {
		log.Debugln("group delivery not configured, skipping")
		return nil
	}
	for i, chunk := range splitMessage(markdown, maxMessageLen) {
		if err := s.sendMessage(ctx, s.botToken, s.groupChatID, chunk); err != nil {
			return fmt.Errorf("%w: chunk %d: %v", jobs.ErrDeliveryFailed, i, err)
		}
	}
	return nil
}

// SendDocument uploads the PDF to the relay chat.
func (s *Sender) SendDocument(ctx context.Context, pdfPath string) error {
	if s.relayBotToken == "" || s.relayChatID == "" {
		log.Debugln("relay delivery not configured, skipping")
		return nil
	}

	f, err := os.Open(pdfPath)
	if err != nil {
		return fmt.Errorf("%w: open document: %v", jobs.ErrDeliveryFailed, err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("chat_id", s.relayChatID); err != nil {
		return fmt.Errorf("%w: %v", jobs.ErrDeliveryFailed, err)
	}
	part, err := writer.CreateFormFile("document", filepath.Base(pdfPath))
	if err != nil {
		return fmt.Errorf("%w: %v", jobs.ErrDeliveryFailed, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("%w: %v", jobs.ErrDeliveryFailed, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("%w: %v", jobs.ErrDeliveryFailed, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendDocument", s.baseURL, s.relayBotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("%w: %v", jobs.ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	if err := s.do(req); err != nil {
		return fmt.Errorf("%w: send document: %v", jobs.ErrDeliveryFailed, err)
	}
	return nil
}

func (s *Sender) sendMessage(ctx context.Context, token, chatID, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, token)
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func (s *Sender) do(req *http.Request) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var apiErr struct {
		Description string `json:"description"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Description != "" {
		log.Errorf("telegram api error: status %d description %s", resp.StatusCode, apiErr.Description)
	} else {
		log.Errorf("telegram api error: status %d body %s", resp.StatusCode, string(raw))
	}
	return fmt.Errorf("telegram api status %d", resp.StatusCode)
}

// splitMessage cuts text into chunks of at most limit bytes, preferring to
// break at the last newline inside the window. With no newline available the
// cut backs off to a rune boundary so a multi-byte character is never split.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit // not valid UTF-8 anyway
			}
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
