// Package coqui provides a TTS provider backed by a Coqui TTS or XTTS v2
// server reached over its REST API. It implements the tts.Provider interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts with
//     URL query parameters; voice catalogue is retrieved from GET /details.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is performed
//     via POST /tts_to_audio/ with a JSON body carrying the generation
//     parameters and seed; voice catalogue is retrieved from
//     GET /studio_speakers.
//
// Both servers answer with a WAV file. The provider decodes it and, when an
// output format is configured, converts the take to that format so every
// device produces takes the assembly stage can concatenate directly.
//
// Typical usage (one provider per device):
//
//	p, err := coqui.New("http://gpu0:8002",
//	    coqui.WithAPIMode(coqui.APIModeXTTS),
//	    coqui.WithOutputFormat(audio.Format{SampleRate: 44100, Channels: 1}),
//	)
//	take, err := p.Synthesize(ctx, tts.Request{Text: "Call me Ishmael.", Voice: voice, Seed: 42})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tacogerbil/chatterboxPro/pkg/audio"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/tts"
	"github.com/tacogerbil/chatterboxPro/pkg/types"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// ---- constants ----

const (
	defaultLanguage        = "en"
	defaultTimeout         = 120 * time.Second
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	// maxErrorBody caps how much of an error response is quoted.
	maxErrorBody = 512
)

// ---- APIMode ----

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode.
	APIModeStandard APIMode = "standard"
)

// ---- options ----

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the TTS server (e.g., "en",
// "de", "fr"). Defaults to "en" if not set.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout for calls to the TTS server.
// Defaults to 120 s; long chunks on a CPU server are slow.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithOutputFormat converts every take to f. The zero Format keeps the
// model's native format.
func WithOutputFormat(f audio.Format) Option {
	return func(p *Provider) {
		if f.SampleRate > 0 && f.Channels > 0 {
			p.conv = &audio.FormatConverter{Target: f}
		}
	}
}

// WithHTTPClient replaces the HTTP client. The timeout set by WithTimeout
// applies to the client in effect when it runs.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// ---- Provider ----

// Provider implements tts.Provider backed by a Coqui TTS server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
	conv       *audio.FormatConverter // nil = native format
}

// New creates a new Coqui Provider that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.apiMode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.apiMode)
	}
	return p, nil
}

// ---- internal request/response types ----

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text        string  `json:"text"`
	SpeakerWav  string  `json:"speaker_wav"`
	Language    string  `json:"language"`
	Seed        int64   `json:"seed,omitempty"`
	Speed       float64 `json:"speed,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// studioSpeakersResponse represents the raw map[name]any returned by GET /studio_speakers.
type studioSpeakersResponse map[string]json.RawMessage

// detailsResponse is the JSON body returned by GET /details (standard mode).
// Speakers is nil for single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// ---- Synthesize ----

// Synthesize renders req.Text with one HTTP call and returns the decoded
// take, converted to the configured output format.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (audio.Buffer, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return audio.Buffer{}, errors.New("coqui: text must not be empty")
	}
	// XTTS conditions on a reference clip and cannot run without one.
	if req.Voice.ID == "" && p.apiMode == APIModeXTTS {
		return audio.Buffer{}, errors.New("coqui: voice.ID must not be empty (required for XTTS mode)")
	}

	var (
		httpReq  *http.Request
		endpoint string
		err      error
	)
	if p.apiMode == APIModeXTTS {
		endpoint = ttsEndpoint
		httpReq, err = p.newXTTSRequest(ctx, text, req)
	} else {
		endpoint = apiTTSEndpoint
		httpReq, err = p.newStandardRequest(ctx, text, req)
	}
	if err != nil {
		return audio.Buffer{}, err
	}

	wav, err := p.do(httpReq, endpoint)
	if err != nil {
		return audio.Buffer{}, err
	}
	buf, err := audio.DecodeWAV(wav)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("coqui: decode %s response: %w", endpoint, err)
	}
	if buf.IsEmpty() {
		return audio.Buffer{}, fmt.Errorf("coqui: %s returned an empty take", endpoint)
	}
	if p.conv != nil {
		if buf, err = p.conv.Convert(buf); err != nil {
			return audio.Buffer{}, fmt.Errorf("coqui: %w", err)
		}
	}
	return buf, nil
}

// newXTTSRequest builds a POST /tts_to_audio/ call (XTTS v2 mode).
func (p *Provider) newXTTSRequest(ctx context.Context, text string, req tts.Request) (*http.Request, error) {
	body := ttsRequest{
		Text:        text,
		SpeakerWav:  req.Voice.ID,
		Language:    p.language,
		Seed:        req.Seed,
		Speed:       req.Params.Speed,
		Temperature: req.Params.Temperature,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "audio/wav")
	return r, nil
}

// newStandardRequest builds a GET /api/tts call (standard server mode).
func (p *Provider) newStandardRequest(ctx context.Context, text string, req tts.Request) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", text)
	if req.Voice.ID != "" {
		params.Set("speaker_id", req.Voice.ID)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}
	if req.Params.Style != "" {
		params.Set("style_wav", req.Params.Style)
	}
	if req.Seed != 0 {
		params.Set("seed", strconv.FormatInt(req.Seed, 10))
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	r.Header.Set("Accept", "audio/wav")
	return r, nil
}

// do sends req and returns the body of a 200 response.
func (p *Provider) do(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("coqui: %s %s returned status %d: %s",
			req.Method, endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read %s response: %w", endpoint, err)
	}
	return body, nil
}

// ---- ListVoices ----

// ListVoices retrieves the list of available voices from the Coqui server.
//
// In APIModeXTTS, it calls GET /studio_speakers. In APIModeStandard, it calls
// GET /details and returns one VoiceProfile per speaker for multi-speaker
// models, or a single VoiceProfile named after the model otherwise.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	if p.apiMode == APIModeStandard {
		return p.listVoicesStandard(ctx)
	}
	return p.listVoicesXTTS(ctx)
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := p.do(req, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", endpoint, err)
	}
	return nil
}

func (p *Provider) listVoicesXTTS(ctx context.Context) ([]types.VoiceProfile, error) {
	var raw studioSpeakersResponse
	if err := p.getJSON(ctx, studioSpeakersEndpoint, &raw); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make([]types.VoiceProfile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, types.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{"type": "studio"},
		})
	}
	return profiles, nil
}

func (p *Provider) listVoicesStandard(ctx context.Context) ([]types.VoiceProfile, error) {
	var details detailsResponse
	if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}

	if len(details.Speakers) > 0 {
		speakers := make([]string, len(details.Speakers))
		copy(speakers, details.Speakers)
		sort.Strings(speakers)

		profiles := make([]types.VoiceProfile, 0, len(speakers))
		for _, spk := range speakers {
			profiles = append(profiles, types.VoiceProfile{
				ID:       spk,
				Name:     spk,
				Provider: "coqui",
				Metadata: map[string]string{
					"type":       "speaker",
					"model_name": details.ModelName,
				},
			})
		}
		return profiles, nil
	}

	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return []types.VoiceProfile{{
		ID:       name,
		Name:     name,
		Provider: "coqui",
		Metadata: map[string]string{
			"type":       "single-speaker",
			"model_name": name,
		},
	}}, nil
}
