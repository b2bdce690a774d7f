// Package whisper provides a Recognizer that posts finished utterances to a
// whisper.cpp server's /inference endpoint.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/cadence/internal/audio"
	"github.com/ent0n29/cadence/internal/reliability"
)

// Recognizer implements provider.Recognizer.
type Recognizer struct {
	serverURL   string
	language    string
	httpClient  *http.Client
	maxAttempts int
	backoff     reliability.Backoff
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithLanguage sets the BCP-47 language hint sent with each request.
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Recognizer) { r.httpClient = c }
}

// WithMaxAttempts retries a request on network errors and 429/5xx answers.
func WithMaxAttempts(n int) Option {
	return func(r *Recognizer) { r.maxAttempts = n }
}

// New builds a Recognizer for the server at serverURL.
func New(serverURL string, opts ...Option) (*Recognizer, error) {
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	r := &Recognizer{
		serverURL:  serverURL,
		language:   "en",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxAttempts: 1,
		backoff:     reliability.DefaultBackoff,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

func (r *Recognizer) Name() string { return "whisper" }

// Recognize implements provider.Recognizer. whisper.cpp answers with the
// whole transcript, so the sequence yields at most one value.
func (r *Recognizer) Recognize(ctx context.Context, utterance audio.Chunk) (iter.Seq2[string, error], error) {
	if len(utterance.Data) == 0 {
		return nil, errors.New("whisper: empty utterance")
	}
	return func(yield func(string, error) bool) {
		var text string
		err := reliability.Do(ctx, r.maxAttempts, r.backoff, func(ctx context.Context) error {
			var err error
			text, err = r.infer(ctx, utterance)
			return err
		})
		if err != nil {
			yield("", err)
			return
		}
		if text = strings.TrimSpace(text); text != "" {
			yield(text, nil)
		}
	}, nil
}

func (r *Recognizer) infer(ctx context.Context, utterance audio.Chunk) (string, error) {
	wav, err := audio.EncodeWAV(utterance.Data, utterance.SampleRate)
	if err != nil {
		return "", fmt.Errorf("whisper: encode wav: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := map[string]string{"response_format": "json", "language": r.language}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned %w", &reliability.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))})
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}
