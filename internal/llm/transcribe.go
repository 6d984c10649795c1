package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultTranscriptionEndpoint = "https://api.openai.com/v1/audio/transcriptions"

// ErrTranscriptionNotConfigured is returned when no API key is set.
var ErrTranscriptionNotConfigured = errors.New("transcription not configured: set OPENAI_API_KEY")

// Transcriber sends audio to an OpenAI compatible transcription endpoint.
type Transcriber struct {
	APIKey     string
	Endpoint   string // full URL, defaults to the OpenAI transcription endpoint
	Model      string // defaults to whisper-1
	Language   string // optional, e.g. "en"
	HTTPClient *http.Client
}

type whisperResponse struct {
	Text string `json:"text"`
}

// NewTranscriber returns a Transcriber using the OpenAI key and base URL.
func NewTranscriber(apiKey, baseURL string) *Transcriber {
	t := &Transcriber{APIKey: apiKey, Language: "en"}
	if baseURL != "" {
		t.Endpoint = strings.TrimRight(baseURL, "/") + "/audio/transcriptions"
	}
	return t
}

// Transcribe uploads audio and returns the transcript.
// Supported formats: flac, mp3, mp4, mpeg, mpga, m4a, ogg, wav, webm.
func (t *Transcriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if t == nil || t.APIKey == "" {
		return "", ErrTranscriptionNotConfigured
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if filename == "" {
		filename = "audio.webm"
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}

	model := t.Model
	if model == "" {
		model = "whisper-1"
	}
	_ = mw.WriteField("model", model)
	_ = mw.WriteField("response_format", "json")
	if t.Language != "" {
		_ = mw.WriteField("language", t.Language)
	}
	mw.Close()

	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = defaultTranscriptionEndpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	client := t.HTTPClient
	if client == nil {
		client = defaultHTTPClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", Classify(fmt.Errorf("whisper request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("whisper API error %d: %s", resp.StatusCode, string(b))
	}

	var result whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode whisper response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

var defaultHTTPClient = &http.Client{Timeout: 120 * time.Second}
