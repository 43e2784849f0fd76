package mediastream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"gate-server/internal/clients/deepgram"
	"gate-server/internal/observability"

	"github.com/gorilla/websocket"
)

// MediaEvent is one JSON-framed event on the Twilio media stream
type MediaEvent struct {
	Event string `json:"event"`
	Start struct {
		CallSid   string `json:"callSid"`
		StreamSid string `json:"streamSid"`
	} `json:"start,omitempty"`
	Media struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Stop struct {
		CallSid string `json:"callSid"`
	} `json:"stop,omitempty"`
}

func parseMediaEvent(msg []byte) (MediaEvent, error) {
	var event MediaEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return MediaEvent{}, fmt.Errorf("unparseable media frame: %w", err)
	}
	return event, nil
}

// Transcriber is the session's exclusively-owned transcription channel
type Transcriber interface {
	Send(audio []byte) error
	Results() <-chan deepgram.Result
	Errors() <-chan error
	Finish()
}

// TranscriberDialer opens a new transcription channel for a session
type TranscriberDialer interface {
	Dial(ctx context.Context) (Transcriber, error)
}

// DialerFunc adapts a function to the TranscriberDialer interface
type DialerFunc func(ctx context.Context) (Transcriber, error)

func (f DialerFunc) Dial(ctx context.Context) (Transcriber, error) {
	return f(ctx)
}

// TranscriptSink consumes recognized text from a session
type TranscriptSink interface {
	HandleTranscript(ctx context.Context, callSID, host, transcript string)
}

// Session bridges one call's media stream to the transcription channel. It
// exclusively owns both connections for its lifetime; teardown finalizes the
// transcription channel and releases the media channel exactly once, no
// matter which side fails first.
type Session struct {
	conn   *websocket.Conn
	dialer TranscriberDialer
	sink   TranscriptSink
	host   string
	logger *observability.Logger

	mu          sync.Mutex
	callSID     string
	transcriber Transcriber
	ready       bool
	dropped     int

	teardownOnce sync.Once
	done         chan struct{}
}

func NewSession(conn *websocket.Conn, dialer TranscriberDialer, sink TranscriptSink, host string, logger *observability.Logger) *Session {
	return &Session{
		conn:   conn,
		dialer: dialer,
		sink:   sink,
		host:   host,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// CallSID returns the provider-assigned call identifier, or empty until the
// first identifying event arrives
func (s *Session) CallSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSID
}

// Run opens the transcription channel and processes media events until the
// media channel closes or errors. It blocks for the session's lifetime and
// always leaves both connections finalized.
func (s *Session) Run(ctx context.Context) {
	defer s.Teardown(ctx)

	go s.openTranscription(ctx)
	s.readLoop(ctx)
}

// openTranscription dials the transcription service and marks the session
// ready. Audio frames arriving before readiness are dropped, not buffered;
// the drop count is logged once readiness is reached.
func (s *Session) openTranscription(ctx context.Context) {
	transcriber, err := s.dialer.Dial(ctx)
	if err != nil {
		s.logger.Error(ctx, "failed to open transcription channel", err)
		s.Teardown(ctx)
		return
	}

	s.mu.Lock()
	select {
	case <-s.done:
		// Session already torn down while dialing.
		s.mu.Unlock()
		transcriber.Finish()
		return
	default:
	}
	s.transcriber = transcriber
	s.ready = true
	dropped := s.dropped
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn(ctx, fmt.Sprintf("transcription ready, %d audio frames dropped before readiness", dropped))
	}

	go s.consumeResults(ctx, transcriber)
}

// consumeResults forwards transcript fragments to the sink until the
// transcription channel ends
func (s *Session) consumeResults(ctx context.Context, transcriber Transcriber) {
	for {
		select {
		case result, ok := <-transcriber.Results():
			if !ok {
				return
			}
			s.logger.Info(ctx, fmt.Sprintf("Transcript: %s", result.Transcript))
			s.sink.HandleTranscript(ctx, s.CallSID(), s.host, result.Transcript)
		case err := <-transcriber.Errors():
			s.logger.Error(ctx, "transcription channel failed", err)
			s.Teardown(ctx)
			return
		case <-s.done:
			return
		}
	}
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info(ctx, "media stream disconnected")
			} else {
				s.logger.Error(ctx, "media stream read error", err)
			}
			return
		}

		event, err := parseMediaEvent(msg)
		if err != nil {
			s.logger.Error(ctx, "failed to parse media stream frame", err)
			continue
		}

		switch event.Event {
		case "connected", "start":
			if sid := event.Start.CallSid; sid != "" {
				s.mu.Lock()
				s.callSID = sid
				s.mu.Unlock()
				s.logger.Info(ctx, fmt.Sprintf("Media stream started for call %s", sid))
			}

		case "media":
			s.handleMedia(ctx, event.Media.Payload)

		case "stop":
			s.logger.Info(ctx, "media stream stopped")
			return

		default:
			s.logger.Debug(ctx, fmt.Sprintf("unhandled media stream event: %s", event.Event))
		}
	}
}

func (s *Session) handleMedia(ctx context.Context, payload string) {
	if s.CallSID() == "" {
		// Still forwarded for transcription once ready, but a trigger on
		// this audio cannot redirect an unidentified call.
		s.logger.Warn(ctx, "received media before call identifier was known")
	}

	audio, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		s.logger.Error(ctx, "failed to decode media payload", err)
		return
	}

	s.mu.Lock()
	ready := s.ready
	transcriber := s.transcriber
	if !ready {
		s.dropped++
	}
	s.mu.Unlock()

	if !ready {
		return
	}

	if err := transcriber.Send(audio); err != nil {
		s.logger.Error(ctx, "failed to forward audio to transcription channel", err)
		s.Teardown(ctx)
	}
}

// Teardown finalizes the transcription channel and releases the media
// channel. Safe to invoke from any path, any number of times; both error
// paths may fire concurrently.
func (s *Session) Teardown(ctx context.Context) {
	s.teardownOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		transcriber := s.transcriber
		s.mu.Unlock()

		if transcriber != nil {
			transcriber.Finish()
		}
		s.conn.Close()
		s.logger.Info(ctx, "call session closed")
	})
}
