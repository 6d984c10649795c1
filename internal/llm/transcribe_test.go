package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestTranscriberSendsMultipart(t *testing.T) {
	var gotAuth, gotModel, gotFile string
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		if f, hdr, err := r.FormFile("file"); err == nil {
			data, _ := io.ReadAll(f)
			gotFile = hdr.Filename + ":" + string(data)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{"text":"  plan a rainy day  "}`)),
		}, nil
	})}

	tr := NewTranscriber("sk-test", "")
	tr.HTTPClient = client
	text, err := tr.Transcribe(context.Background(), strings.NewReader("AUDIO"), "note.webm")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "plan a rainy day" {
		t.Fatalf("text=%q", text)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("auth=%q", gotAuth)
	}
	if gotModel != "whisper-1" {
		t.Fatalf("model=%q", gotModel)
	}
	if gotFile != "note.webm:AUDIO" {
		t.Fatalf("file=%q", gotFile)
	}
}

func TestTranscriberRequiresKey(t *testing.T) {
	_, err := NewTranscriber("", "").Transcribe(context.Background(), strings.NewReader("x"), "a.mp3")
	if !errors.Is(err, ErrTranscriptionNotConfigured) {
		t.Fatalf("err=%v", err)
	}
}

func TestTranscriberAPIError(t *testing.T) {
	tr := NewTranscriber("sk", "https://example.test/v1")
	tr.HTTPClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.String() != "https://example.test/v1/audio/transcriptions" {
			t.Errorf("url=%s", r.URL)
		}
		return &http.Response{StatusCode: 400, Body: io.NopCloser(strings.NewReader("bad audio"))}, nil
	})}
	if _, err := tr.Transcribe(context.Background(), strings.NewReader("x"), "a.mp3"); err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err=%v", err)
	}
}
