// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// A take is streamed in fixed-size binary frames, followed by a CloseStream
// message. Deepgram then emits the remaining final results and closes the
// socket; the provider joins every final result into one transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/tacogerbil/chatterboxPro/pkg/audio"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/stt"
	"github.com/tacogerbil/chatterboxPro/pkg/types"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// frameDuration is the amount of audio sent per binary message.
	frameDuration = 100 * time.Millisecond
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the listen endpoint URL.
func WithEndpoint(u string) Option {
	return func(p *Provider) {
		p.endpoint = u
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for a take in f.
func (p *Provider) buildURL(f audio.Format) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(f.SampleRate))
	q.Set("channels", strconv.Itoa(f.Channels))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Transcribe streams take to Deepgram and returns the joined final results.
func (p *Provider) Transcribe(ctx context.Context, take audio.Buffer) (types.Transcript, error) {
	if err := take.Validate(); err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: %w", err)
	}
	wsURL, err := p.buildURL(take.Format())
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	// Writes run concurrently with reads so a slow reader never stalls the
	// server's send buffer.
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- p.send(ctx, conn, take)
	}()

	var (
		parts []string
		words []types.WordDetail
		conf  float64
		n     int
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return types.Transcript{}, fmt.Errorf("deepgram: read: %w", err)
		}
		res, ok := parseDeepgramResponse(msg)
		if !ok || !res.final {
			continue
		}
		if res.text != "" {
			parts = append(parts, res.text)
			words = append(words, res.words...)
			conf += res.confidence
			n++
		}
	}
	if err := <-writeErr; err != nil {
		return types.Transcript{}, err
	}

	tr := types.Transcript{
		Text:     strings.Join(parts, " "),
		Words:    words,
		Duration: take.Duration(),
	}
	if n > 0 {
		tr.Confidence = conf / float64(n)
	}
	return tr, nil
}

// send writes take in frameDuration slices followed by CloseStream.
func (p *Provider) send(ctx context.Context, conn *websocket.Conn, take audio.Buffer) error {
	step := take.Format().FramesFor(frameDuration) * take.Format().FrameSize()
	for off := 0; off < len(take.PCM); off += step {
		end := min(off+step, len(take.PCM))
		if err := conn.Write(ctx, websocket.MessageBinary, take.PCM[off:end]); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: write close: %w", err)
	}
	return nil
}

// ---- response parsing ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type result struct {
	text       string
	final      bool
	confidence float64
	words      []types.WordDetail
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message.
// Returns false if the message should be ignored.
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]types.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, types.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}
	return result{
		text:       strings.TrimSpace(alt.Transcript),
		final:      resp.IsFinal,
		confidence: alt.Confidence,
		words:      words,
	}, true
}

var _ stt.Provider = (*Provider)(nil)
