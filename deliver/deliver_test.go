package deliver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"transcript-bot/jobs"
)

func init() {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	Init(logger)
}

func testSender(serverURL string) *Sender {
	s := NewSender("group-token", "-100123", "relay-token", "456")
	s.baseURL = serverURL
	return s
}

func TestSendNoteChunksLongText(t *testing.T) {
	var texts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		r.ParseForm()
		texts = append(texts, r.FormValue("text"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	long := strings.Repeat("строка текста\n", 600) // well past one message
	if err := testSender(srv.URL).SendNote(context.Background(), long); err != nil {
		t.Fatal(err)
	}
	if len(texts) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(texts))
	}
	for i, text := range texts {
		if len(text) > maxMessageLen {
			t.Errorf("chunk %d is %d chars, over the limit", i, len(text))
		}
	}
	joined := strings.Join(texts, "\n")
	if strings.Count(joined, "строка текста") != 600 {
		t.Error("chunking lost lines")
	}
}

func TestSplitMessageBacksOffToRuneBoundary(t *testing.T) {
	// a long run of Cyrillic without any newline forces the hard cut
	text := strings.Repeat("я", 3000) // 6000 bytes
	chunks := splitMessage(text, maxMessageLen)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	var rebuilt strings.Builder
	for i, chunk := range chunks {
		if !utf8.ValidString(chunk) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
		if len(chunk) > maxMessageLen {
			t.Errorf("chunk %d is %d bytes, over the limit", i, len(chunk))
		}
		rebuilt.WriteString(chunk)
	}
	if rebuilt.String() != text {
		t.Error("chunking lost or altered bytes")
	}
}

func TestSendNoteAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	err := testSender(srv.URL).SendNote(context.Background(), "note")
	if !errors.Is(err, jobs.ErrDeliveryFailed) {
		t.Fatalf("expected delivery failure, got %v", err)
	}
	if strings.Contains(err.Error(), "chat not found") {
		t.Error("raw api payload leaked into the returned error")
	}
}

func TestSendDocumentUploadsPDF(t *testing.T) {
	var gotChatID, gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/botrelay-token/sendDocument") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		r.ParseMultipartForm(1 << 20)
		gotChatID = r.FormValue("chat_id")
		if _, header, err := r.FormFile("document"); err == nil {
			gotFilename = header.Filename
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	pdfPath := filepath.Join(t.TempDir(), "note.pdf")
	if err := os.WriteFile(pdfPath, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := testSender(srv.URL).SendDocument(context.Background(), pdfPath); err != nil {
		t.Fatal(err)
	}
	if gotChatID != "456" {
		t.Errorf("chat_id %q, want 456", gotChatID)
	}
	if gotFilename != "note.pdf" {
		t.Errorf("filename %q, want note.pdf", gotFilename)
	}
}

func TestSendDocumentMissingFile(t *testing.T) {
	err := testSender("http://unused").SendDocument(context.Background(), "/nonexistent/note.pdf")
	if !errors.Is(err, jobs.ErrDeliveryFailed) {
		t.Fatalf("expected delivery failure, got %v", err)
	}
}

func TestUnconfiguredSenderIsNoOp(t *testing.T) {
	s := NewSender("", "", "", "")
	if err := s.SendNote(context.Background(), "note"); err != nil {
		t.Errorf("unconfigured group delivery returned %v", err)
	}
	if err := s.SendDocument(context.Background(), "/nonexistent.pdf"); err != nil {
		t.Errorf("unconfigured relay delivery returned %v", err)
	}
}
