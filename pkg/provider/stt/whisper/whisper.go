// Package whisper provides whisper.cpp-backed STT providers.
//
// Provider connects to a running whisper-server binary, which exposes a REST
// API at POST /inference, and submits each take as one batch request.
// NativeProvider runs the model in-process through the CGO bindings.
//
// whisper.cpp only accepts 16 kHz mono audio; both providers convert takes
// before inference.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	tr, err := p.Transcribe(ctx, take)
package whisper

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

	"github.com/tacogerbil/chatterboxPro/pkg/audio"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/stt"
	"github.com/tacogerbil/chatterboxPro/pkg/types"
)

const (
	// sampleRate is the only rate whisper.cpp accepts.
	sampleRate = 16000

	defaultLanguage = "en"
	defaultTimeout  = 60 * time.Second
	inferencePath   = "/inference"
)

// modelFormat is the format takes are converted to before inference.
var modelFormat = audio.Format{SampleRate: sampleRate, Channels: 1}

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with; this is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 60 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// inferenceResponse is the verbose JSON body returned by POST /inference.
type inferenceResponse struct {
	Text     string    `json:"text"`
	Error    string    `json:"error,omitempty"`
	Segments []segment `json:"segments,omitempty"`
}

type segment struct {
	NoSpeechProb     float64 `json:"no_speech_prob"`
	CompressionRatio float64 `json:"compression_ratio"`
}

// Transcribe converts take to 16 kHz mono, encodes it as WAV and POSTs it to
// the /inference endpoint as multipart/form-data.
func (p *Provider) Transcribe(ctx context.Context, take audio.Buffer) (types.Transcript, error) {
	conv := audio.FormatConverter{Target: modelFormat}
	mono, err := conv.Convert(take)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: %w", err)
	}

	body, contentType, err := p.buildForm(mono)
	if err != nil {
		return types.Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+inferencePath, body)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.Transcript{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: read response body: %w", err)
	}
	var result inferenceResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	if result.Error != "" {
		return types.Transcript{}, fmt.Errorf("whisper: server error: %s", result.Error)
	}

	tr := types.Transcript{
		Text:     strings.TrimSpace(result.Text),
		Duration: take.Duration(),
	}
	for _, seg := range result.Segments {
		tr.NoSpeechProb = max(tr.NoSpeechProb, seg.NoSpeechProb)
		tr.CompressionRatio = max(tr.CompressionRatio, seg.CompressionRatio)
	}
	return tr, nil
}

// buildForm encodes the multipart request body.
func (p *Provider) buildForm(take audio.Buffer) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "take.wav")
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if err := audio.WriteWAV(fw, take); err != nil {
		return nil, "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := [][2]string{
		{"response_format", "verbose_json"},
		{"temperature", "0.0"},
		{"language", p.language},
		{"model", p.model},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
