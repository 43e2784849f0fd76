package trigger

import (
	"context"
	"sync"
	"testing"

	"gate-server/internal/observability"
)

type recordedRedirect struct {
	callSID string
	url     string
}

type fakeRedirector struct {
	mu        sync.Mutex
	redirects []recordedRedirect
}

func (f *fakeRedirector) RedirectCall(ctx context.Context, callSID, webhookURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redirects = append(f.redirects, recordedRedirect{callSID, webhookURL})
	return nil
}

func TestMatch(t *testing.T) {
	detector := NewDetector(&fakeRedirector{}, observability.NewLogger())

	tests := []struct {
		name       string
		transcript string
		want       string
		wantMatch  bool
	}{
		{"exact keyword", "amazon", "amazon", true},
		{"keyword inside sentence", "hi this is your Amazon driver", "amazon", true},
		{"uppercase transcript", "FEDEX DELIVERY HERE", "fedex", true},
		{"mixed case", "I have a PackAge for you", "package", true},
		{"spaced variant", "door dash here", "door dash", true},
		{"no keyword", "hello I am here to visit my friend", "", false},
		{"empty transcript", "", "", false},
		{"list order wins", "ups delivery truck", "ups", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := detector.Match(tt.transcript)
			if ok != tt.wantMatch {
				t.Fatalf("Match(%q) matched=%v, want %v", tt.transcript, ok, tt.wantMatch)
			}
			if ok && got != tt.want {
				t.Errorf("Match(%q) = %q, want %q", tt.transcript, got, tt.want)
			}
		})
	}
}

func TestMatch_SpacedUberEats(t *testing.T) {
	detector := NewDetector(&fakeRedirector{}, observability.NewLogger())

	// "uber eats" is its own list entry, after the unspaced form.
	got, ok := detector.Match("there's an uber eats driver outside")
	if !ok || got != "uber eats" {
		t.Fatalf("expected %q match, got %q (matched=%v)", "uber eats", got, ok)
	}
}

func TestHandleTranscript_RedirectsOnMatch(t *testing.T) {
	redirector := &fakeRedirector{}
	detector := NewDetector(redirector, observability.NewLogger())

	detector.HandleTranscript(context.Background(), "CA123", "gate.example.com", "Amazon delivery here")

	if len(redirector.redirects) != 1 {
		t.Fatalf("expected exactly 1 redirect, got %d", len(redirector.redirects))
	}
	redirect := redirector.redirects[0]
	if redirect.callSID != "CA123" {
		t.Errorf("expected call SID CA123, got %s", redirect.callSID)
	}
	want := "https://gate.example.com/twilio/success?trigger=amazon"
	if redirect.url != want {
		t.Errorf("expected redirect URL %q, got %q", want, redirect.url)
	}
}

func TestHandleTranscript_QueryEscapesKeyword(t *testing.T) {
	redirector := &fakeRedirector{}
	detector := NewDetector(redirector, observability.NewLogger())

	detector.HandleTranscript(context.Background(), "CA123", "gate.example.com", "the door dash guy is here")

	if len(redirector.redirects) != 1 {
		t.Fatalf("expected exactly 1 redirect, got %d", len(redirector.redirects))
	}
	want := "https://gate.example.com/twilio/success?trigger=door+dash"
	if got := redirector.redirects[0].url; got != want {
		t.Errorf("expected redirect URL %q, got %q", want, got)
	}
}

func TestHandleTranscript_NoCallSIDDiscardsMatch(t *testing.T) {
	redirector := &fakeRedirector{}
	detector := NewDetector(redirector, observability.NewLogger())

	detector.HandleTranscript(context.Background(), "", "gate.example.com", "fedex here")

	if len(redirector.redirects) != 0 {
		t.Fatalf("expected no redirect without a call identifier, got %d", len(redirector.redirects))
	}
}

func TestHandleTranscript_NoMatchNoRedirect(t *testing.T) {
	redirector := &fakeRedirector{}
	detector := NewDetector(redirector, observability.NewLogger())

	detector.HandleTranscript(context.Background(), "CA123", "gate.example.com", "just visiting")

	if len(redirector.redirects) != 0 {
		t.Fatalf("expected no redirect, got %d", len(redirector.redirects))
	}
}

func TestHandleTranscript_RepeatedMatchesNotDeduplicated(t *testing.T) {
	redirector := &fakeRedirector{}
	detector := NewDetector(redirector, observability.NewLogger())

	detector.HandleTranscript(context.Background(), "CA123", "gate.example.com", "amazon")
	detector.HandleTranscript(context.Background(), "CA123", "gate.example.com", "amazon driver")

	if len(redirector.redirects) != 2 {
		t.Fatalf("expected one redirect per matching fragment, got %d", len(redirector.redirects))
	}
}
