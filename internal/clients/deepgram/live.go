package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"gate-server/internal/observability"

	"github.com/gorilla/websocket"
)

const liveEndpoint = "wss://api.deepgram.com/v1/listen"

// Config describes one live transcription stream. Encoding and sample rate
// are fixed to Twilio's narrowband telephony media format.
type Config struct {
	APIKey   string
	Model    string
	Language string
}

// Result is one transcript fragment from the live stream. Interim fragments
// arrive with IsFinal false; SpeechFinal marks detected end of speech.
type Result struct {
	Transcript  string
	IsFinal     bool
	SpeechFinal bool
}

// liveMessage mirrors the wire shape of Deepgram live responses
type liveMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// LiveTranscription is an exclusively-owned streaming connection to the
// Deepgram live API. Audio goes in via Send, transcript fragments come out on
// Results. Finish is safe to call more than once and from either the owner or
// the read loop's error path.
type LiveTranscription struct {
	conn    *websocket.Conn
	results chan Result
	errs    chan error
	logger  *observability.Logger

	writeMu    sync.Mutex
	finishOnce sync.Once
}

// Dial opens a live transcription stream for 8kHz mulaw telephony audio.
// The connection accepts audio as soon as Dial returns.
func Dial(ctx context.Context, cfg Config, logger *observability.Logger) (*LiveTranscription, error) {
	query := url.Values{}
	query.Set("model", cfg.Model)
	query.Set("language", cfg.Language)
	query.Set("smart_format", "true")
	query.Set("encoding", "mulaw")
	query.Set("sample_rate", "8000")

	return dial(ctx, liveEndpoint+"?"+query.Encode(), cfg.APIKey, logger)
}

// dial is split out so tests can point the client at a local websocket server
func dial(ctx context.Context, wsURL, apiKey string, logger *observability.Logger) (*LiveTranscription, error) {
	header := http.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Token "+apiKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial transcription stream: %w", err)
	}

	lt := &LiveTranscription{
		conn:    conn,
		results: make(chan Result, 16),
		errs:    make(chan error, 1),
		logger:  logger,
	}
	go lt.readLoop(ctx)

	return lt, nil
}

// Send forwards one chunk of raw audio to the transcription stream
func (lt *LiveTranscription) Send(audio []byte) error {
	lt.writeMu.Lock()
	defer lt.writeMu.Unlock()

	if err := lt.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write audio to transcription stream: %w", err)
	}
	return nil
}

// Results returns the channel of transcript fragments. It is closed when the
// stream ends.
func (lt *LiveTranscription) Results() <-chan Result {
	return lt.results
}

// Errors returns a channel carrying at most one stream-fatal error
func (lt *LiveTranscription) Errors() <-chan error {
	return lt.errs
}

// Finish tells Deepgram to flush any buffered audio and closes the
// connection. Idempotent.
func (lt *LiveTranscription) Finish() {
	lt.finishOnce.Do(func() {
		lt.writeMu.Lock()
		// Best effort: the connection may already be gone on error paths.
		_ = lt.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		lt.writeMu.Unlock()
		lt.conn.Close()
	})
}

func (lt *LiveTranscription) readLoop(ctx context.Context) {
	defer close(lt.results)

	for {
		_, msg, err := lt.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				lt.logger.Info(ctx, "transcription stream closed")
			} else {
				select {
				case lt.errs <- err:
				default:
				}
			}
			return
		}

		var parsed liveMessage
		if err := json.Unmarshal(msg, &parsed); err != nil {
			lt.logger.Error(ctx, "failed to parse transcription message", err)
			continue
		}
		if parsed.Type != "" && parsed.Type != "Results" {
			continue
		}
		if len(parsed.Channel.Alternatives) == 0 {
			continue
		}

		transcript := parsed.Channel.Alternatives[0].Transcript
		if transcript == "" {
			continue
		}

		select {
		case lt.results <- Result{
			Transcript:  transcript,
			IsFinal:     parsed.IsFinal,
			SpeechFinal: parsed.SpeechFinal,
		}:
		case <-ctx.Done():
			return
		}
	}
}
