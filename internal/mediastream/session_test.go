package mediastream

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gate-server/internal/clients/deepgram"
	"gate-server/internal/observability"

	"github.com/gorilla/websocket"
)

type fakeTranscriber struct {
	mu       sync.Mutex
	sent     [][]byte
	finishes int
	results  chan deepgram.Result
	errs     chan error
}

func newFakeTranscriber() *fakeTranscriber {
	return &fakeTranscriber{
		results: make(chan deepgram.Result, 8),
		errs:    make(chan error, 1),
	}
}

func (f *fakeTranscriber) Send(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, audio)
	return nil
}

func (f *fakeTranscriber) Results() <-chan deepgram.Result { return f.results }
func (f *fakeTranscriber) Errors() <-chan error            { return f.errs }

func (f *fakeTranscriber) Finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishes++
}

func (f *fakeTranscriber) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTranscriber) finishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finishes
}

type sinkCall struct {
	callSID    string
	transcript string
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (f *fakeSink) HandleTranscript(ctx context.Context, callSID, host, transcript string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sinkCall{callSID, transcript})
}

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSink) call(i int) sinkCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

// gatedDialer blocks Dial until released, to simulate a slow transcription
// service
type gatedDialer struct {
	release chan struct{}
	tr      *fakeTranscriber
}

func (d *gatedDialer) Dial(ctx context.Context) (Transcriber, error) {
	<-d.release
	return d.tr, nil
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startSession runs a Session behind a test websocket server and returns the
// client side of the media channel plus the session under test.
func startSession(t *testing.T, dialer TranscriberDialer, sink TranscriptSink) (*websocket.Conn, *Session) {
	t.Helper()

	logger := observability.NewLogger()
	sessions := make(chan *Session, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		session := NewSession(conn, dialer, sink, r.Host, logger)
		sessions <- session
		session.Run(context.Background())
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case session := <-sessions:
		return client, session
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session")
		return nil, nil
	}
}

func mediaFrame(payload []byte) string {
	return `{"event":"media","media":{"payload":"` + base64.StdEncoding.EncodeToString(payload) + `"}}`
}

const startFrame = `{"event":"start","start":{"callSid":"CA123","streamSid":"MZ1"}}`

func send(t *testing.T, client *websocket.Conn, frame string) {
	t.Helper()
	if err := client.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("client write failed: %v", err)
	}
}

func TestSession_DropsFramesBeforeTranscriptionReady(t *testing.T) {
	tr := newFakeTranscriber()
	dialer := &gatedDialer{release: make(chan struct{}), tr: tr}
	client, session := startSession(t, dialer, &fakeSink{})

	send(t, client, startFrame)
	for i := 0; i < 3; i++ {
		send(t, client, mediaFrame([]byte{0x7f, 0x00}))
	}

	// Frames arriving before readiness are dropped, not buffered.
	waitUntil(t, "3 dropped frames", func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return session.dropped == 3
	})
	if tr.sentCount() != 0 {
		t.Fatalf("expected no frames forwarded before readiness, got %d", tr.sentCount())
	}

	close(dialer.release)
	waitUntil(t, "transcription ready", func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return session.ready
	})

	// The session stays open and later frames flow through.
	send(t, client, mediaFrame([]byte{0x01, 0x02}))
	waitUntil(t, "frame forwarded after readiness", func() bool { return tr.sentCount() == 1 })
}

func TestSession_MediaBeforeStartHasNoCallIdentifier(t *testing.T) {
	tr := newFakeTranscriber()
	dialer := DialerFunc(func(ctx context.Context) (Transcriber, error) { return tr, nil })
	sink := &fakeSink{}
	client, session := startSession(t, dialer, sink)

	waitUntil(t, "transcription ready", func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return session.ready
	})

	// Audio before any start event is still forwarded for transcription.
	send(t, client, mediaFrame([]byte{0x7f}))
	waitUntil(t, "frame forwarded", func() bool { return tr.sentCount() == 1 })

	// A transcript produced now carries no call identifier, so a matching
	// keyword cannot redirect the call.
	tr.results <- deepgram.Result{Transcript: "amazon delivery", IsFinal: true}
	waitUntil(t, "sink call", func() bool { return sink.callCount() == 1 })
	if got := sink.call(0); got.callSID != "" {
		t.Fatalf("expected empty call SID before start event, got %q", got.callSID)
	}

	send(t, client, startFrame)
	waitUntil(t, "call identifier", func() bool { return session.CallSID() == "CA123" })

	tr.results <- deepgram.Result{Transcript: "fedex here", IsFinal: true}
	waitUntil(t, "second sink call", func() bool { return sink.callCount() == 2 })
	if got := sink.call(1); got.callSID != "CA123" {
		t.Fatalf("expected call SID CA123 after start event, got %q", got.callSID)
	}
}

func TestSession_MalformedFrameIsSkipped(t *testing.T) {
	tr := newFakeTranscriber()
	dialer := DialerFunc(func(ctx context.Context) (Transcriber, error) { return tr, nil })
	client, session := startSession(t, dialer, &fakeSink{})

	waitUntil(t, "transcription ready", func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return session.ready
	})

	send(t, client, "this is not json")
	send(t, client, mediaFrame([]byte{0x0a}))

	// The bad frame is dropped and the session keeps processing.
	waitUntil(t, "frame forwarded after malformed frame", func() bool { return tr.sentCount() == 1 })
}

func TestSession_StopFinalizesTranscriptionOnce(t *testing.T) {
	tr := newFakeTranscriber()
	dialer := DialerFunc(func(ctx context.Context) (Transcriber, error) { return tr, nil })
	client, session := startSession(t, dialer, &fakeSink{})

	waitUntil(t, "transcription ready", func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return session.ready
	})

	send(t, client, `{"event":"stop","stop":{"callSid":"CA123"}}`)
	waitUntil(t, "teardown", func() bool { return tr.finishCount() == 1 })

	// A second teardown, as when both close and error paths fire, is a no-op.
	session.Teardown(context.Background())
	if tr.finishCount() != 1 {
		t.Fatalf("expected transcription finalized exactly once, got %d", tr.finishCount())
	}
}

func TestSession_TranscriptionErrorTearsDown(t *testing.T) {
	tr := newFakeTranscriber()
	dialer := DialerFunc(func(ctx context.Context) (Transcriber, error) { return tr, nil })
	client, session := startSession(t, dialer, &fakeSink{})

	waitUntil(t, "transcription ready", func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return session.ready
	})

	tr.errs <- errors.New("stream reset")
	waitUntil(t, "teardown on transcription error", func() bool { return tr.finishCount() == 1 })

	// The media channel is released as part of teardown.
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Fatal("expected media channel to be closed after teardown")
	}
}

func TestSession_DialFailureTearsDown(t *testing.T) {
	dialer := DialerFunc(func(ctx context.Context) (Transcriber, error) {
		return nil, errors.New("connection refused")
	})
	client, _ := startSession(t, dialer, &fakeSink{})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Fatal("expected media channel to be closed after dial failure")
	}
}
