package relay

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/relaymesh/ccgate/internal/identity"
	"github.com/relaymesh/ccgate/internal/logging"
	"github.com/relaymesh/ccgate/internal/sanitize"
)

// MaxOverloadRetries bounds the overload retry loop.
const MaxOverloadRetries = 2

const (
	overloadBackoffBase = time.Second
	orphanRepairPause   = 100 * time.Millisecond
)

// Outcome labels how a request ultimately succeeded (or didn't).
type Outcome string

const (
	// OutcomeSuccess: the first attempt was returned with no cleanup needed,
	// or a non-retryable error is being surfaced.
	OutcomeSuccess Outcome = "Success"
	// OutcomeProactiveSuccess: the first attempt succeeded after proactive
	// orphan removal.
	OutcomeProactiveSuccess Outcome = "ProactiveSuccess"
	// OutcomeRetrySuccess: a retried attempt produced the returned response.
	OutcomeRetrySuccess Outcome = "RetrySuccess"
)

// Metadata is the relay's introspection channel; it never reaches the
// upstream or the client body.
type Metadata struct {
	ProactiveRemovedIDs []string `json:"proactiveRemovedIds"`
	RemovedToolUseIDs   []string `json:"removedToolUseIds"`
	RetryCount          int      `json:"retryCount"`
	Outcome             Outcome  `json:"outcome"`
}

// dispatcher is the single-round-trip primitive the orchestrator drives.
type dispatcher interface {
	Do(ctx context.Context, method, url string, header http.Header, body []byte) (*http.Response, error)
}

// Orchestrator composes sanitization, identity normalization, dispatch and
// retry for one request. It holds no per-request state; one instance serves
// all requests.
type Orchestrator struct {
	dispatcher dispatcher
	normalizer *identity.Normalizer

	maxOverloadRetries int
	backoffBase        time.Duration
	repairPause        time.Duration
}

// NewOrchestrator builds an orchestrator. normalizer may be nil when no
// identity rewriting is wanted (tests, passthrough deployments).
func NewOrchestrator(d dispatcher, normalizer *identity.Normalizer) *Orchestrator {
	return &Orchestrator{
		dispatcher:         d,
		normalizer:         normalizer,
		maxOverloadRetries: MaxOverloadRetries,
		backoffBase:        overloadBackoffBase,
		repairPause:        orphanRepairPause,
	}
}

// ExecuteWithCleanup runs the full relay sequence for one parsed JSON body:
//
//	proactive orphan strip → normalize → dispatch →
//	bounded overload retry → streaming/2xx return →
//	single orphan repair on 400 → surface response verbatim.
//
// The returned response is never synthesized; upstream errors are surfaced
// as responses, and only transport failures and cancellation return a Go
// error. The caller owns closing the response body.
func (o *Orchestrator) ExecuteWithCleanup(ctx context.Context, method, targetURL string, header http.Header, body []byte) (*http.Response, *Metadata, error) {
	meta := &Metadata{
		ProactiveRemovedIDs: []string{},
		RemovedToolUseIDs:   []string{},
	}

	hadOrphans := false
	if messages := gjson.GetBytes(body, "messages"); messages.IsArray() {
		cleaned, removed, had := sanitize.StripOrphanToolResults([]byte(messages.Raw))
		if had {
			body, _ = sjson.SetRawBytes(body, "messages", cleaned)
			meta.ProactiveRemovedIDs = removed
			hadOrphans = true
			logging.WithContext(ctx).Debugf("proactively removed orphan tool results: %v", removed)
		}
	}

	if o.normalizer != nil {
		if parsed, errParse := url.Parse(targetURL); errParse == nil {
			body = o.normalizer.Normalize(parsed.Host, header, body)
		}
	}
	header.Del("Content-Length")

	resp, err := o.dispatcher.Do(ctx, method, targetURL, header, body)
	if err != nil {
		return nil, meta, err
	}

	// Overload retries reuse the same body bytes: the rejection is about
	// server capacity, not request content.
	for attempt := 1; attempt <= o.maxOverloadRetries; attempt++ {
		if is2xx(resp) || classifyResponse(resp).Kind != ClassOverload {
			break
		}
		meta.RetryCount = attempt
		delay := o.backoffBase << (attempt - 1)
		logging.WithContext(ctx).Debugf("upstream overloaded (status %d), retry %d in %s", resp.StatusCode, attempt, delay)
		if err = sleepCtx(ctx, delay); err != nil {
			drainAndClose(resp)
			return nil, meta, err
		}
		drainAndClose(resp)
		resp, err = o.dispatcher.Do(ctx, method, targetURL, header, body)
		if err != nil {
			return nil, meta, err
		}
	}

	if IsStreamingResponse(resp) || is2xx(resp) {
		meta.Outcome = successOutcome(meta.RetryCount, hadOrphans)
		return resp, meta, nil
	}

	if resp.StatusCode == http.StatusBadRequest {
		if verdict := classifyResponse(resp); verdict.Kind == ClassOrphan && len(verdict.OrphanIDs) > 0 {
			// One reactive repair, for the first cited id only. A second 400
			// is surfaced rather than retried; an upstream citing one id per
			// response must not drive an unbounded loop.
			if messages := gjson.GetBytes(body, "messages"); messages.IsArray() {
				cleaned := sanitize.RemoveToolResult([]byte(messages.Raw), verdict.OrphanIDs[0])
				body, _ = sjson.SetRawBytes(body, "messages", cleaned)
			}
			meta.RemovedToolUseIDs = append(meta.RemovedToolUseIDs, verdict.OrphanIDs...)
			meta.RetryCount++
			logging.WithContext(ctx).Debugf("upstream cited dangling tool_use_id %s, repairing once", verdict.OrphanIDs[0])
			if err = sleepCtx(ctx, o.repairPause); err != nil {
				drainAndClose(resp)
				return nil, meta, err
			}
			drainAndClose(resp)
			resp, err = o.dispatcher.Do(ctx, method, targetURL, header, body)
			if err != nil {
				return nil, meta, err
			}
			if IsStreamingResponse(resp) || is2xx(resp) {
				meta.Outcome = OutcomeRetrySuccess
			} else {
				meta.Outcome = OutcomeSuccess
			}
			return resp, meta, nil
		}
	}

	if meta.RetryCount > 0 {
		meta.Outcome = OutcomeRetrySuccess
	} else {
		meta.Outcome = OutcomeSuccess
	}
	return resp, meta, nil
}

func successOutcome(retryCount int, hadOrphans bool) Outcome {
	switch {
	case retryCount > 0:
		return OutcomeRetrySuccess
	case hadOrphans:
		return OutcomeProactiveSuccess
	}
	return OutcomeSuccess
}

func is2xx(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// sleepCtx pauses for d or until ctx is cancelled, whichever comes first.
// No retry begins once cancellation has been observed.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_ = resp.Body.Close()
}
