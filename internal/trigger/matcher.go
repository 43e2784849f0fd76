package trigger

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"gate-server/internal/observability"
)

// deliveryKeywords are the spoken phrases that grant access. Matching is
// case-insensitive substring search; first match in list order wins.
var deliveryKeywords = []string{
	"amazon", "fedex", "ups", "usps", "dhl", "delivery", "package",
	"doordash", "door dash", "ubereats", "uber eats",
}

// CallRedirector points an in-progress call at a new webhook URL
type CallRedirector interface {
	RedirectCall(ctx context.Context, callSID, webhookURL string) error
}

// Detector inspects transcript fragments for delivery intent and, on a
// match, redirects the call to the success webhook
type Detector struct {
	redirector CallRedirector
	keywords   []string
	logger     *observability.Logger
}

func NewDetector(redirector CallRedirector, logger *observability.Logger) *Detector {
	return &Detector{
		redirector: redirector,
		keywords:   deliveryKeywords,
		logger:     logger,
	}
}

// Match returns the first configured keyword contained in the transcript,
// ignoring case. Overlapping keywords are not disambiguated.
func (d *Detector) Match(transcript string) (string, bool) {
	normalized := strings.ToLower(transcript)
	for _, keyword := range d.keywords {
		if strings.Contains(normalized, keyword) {
			return keyword, true
		}
	}
	return "", false
}

// HandleTranscript evaluates one transcript fragment. On a keyword match
// with a known call identifier it redirects the call to the success webhook,
// carrying the keyword as trigger context. A match before the call
// identifier is known is logged and discarded: an unidentified call cannot
// be redirected. Repeated matches across fragments are not deduplicated.
func (d *Detector) HandleTranscript(ctx context.Context, callSID, host, transcript string) {
	keyword, ok := d.Match(transcript)
	if !ok {
		return
	}

	ctx = observability.WithFields(ctx,
		observability.Field{Key: "keyword", Value: keyword},
		observability.Field{Key: "call_sid", Value: callSID},
	)

	if callSID == "" {
		d.logger.Warn(ctx, "delivery keyword matched but no call identifier known, discarding")
		return
	}

	d.logger.Info(ctx, fmt.Sprintf("Delivery intent detected (%q), redirecting call", keyword))

	successURL := fmt.Sprintf("https://%s/twilio/success?trigger=%s", host, url.QueryEscape(keyword))
	if err := d.redirector.RedirectCall(ctx, callSID, successURL); err != nil {
		d.logger.Error(ctx, "failed to redirect call to success webhook", err)
	}
}
