package cashback

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// DEBOUNCED PREVIEWER
// =============================================================================

// DefaultPreviewDelay is the debounce window between the last input change
// and the preview fetch.
const DefaultPreviewDelay = 500 * time.Millisecond

// PreviewFunc computes a preview. It must honour ctx cancellation.
type PreviewFunc func(ctx context.Context, req PreviewRequest) (*Preview, error)

// PreviewResult is delivered for the latest request only.
type PreviewResult struct {
	Token   uint64
	Preview *Preview
	Err     error
}

// Previewer debounces preview requests. Every Request gets a strictly
// increasing token and cancels the previous request, whether it is still
// waiting out the delay or already fetching. A result is delivered only if
// its token is still the latest when the fetch returns.
//
// onResult runs with the previewer locked: the staleness check and the
// delivery are one step, and a Request issued meanwhile waits for the
// delivery to finish. onResult must therefore not call the Previewer.
type Previewer struct {
	fetch    PreviewFunc
	delay    time.Duration
	onResult func(PreviewResult)

	mu     sync.Mutex
	token  uint64
	timer  *time.Timer
	cancel context.CancelFunc
	closed bool
}

// NewPreviewer creates a previewer. delay <= 0 uses DefaultPreviewDelay.
func NewPreviewer(fetch PreviewFunc, delay time.Duration, onResult func(PreviewResult)) *Previewer {
	if delay <= 0 {
		delay = DefaultPreviewDelay
	}
	return &Previewer{fetch: fetch, delay: delay, onResult: onResult}
}

// Request schedules a preview for req after the debounce delay and returns
// its token. Feed the token to the form reducer as PreviewRequested.
func (p *Previewer) Request(ctx context.Context, req PreviewRequest) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.token++
	if p.closed {
		return p.token
	}
	p.stopLocked()

	token := p.token
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.timer = time.AfterFunc(p.delay, func() {
		p.run(runCtx, token, req)
	})
	return token
}

func (p *Previewer) run(ctx context.Context, token uint64, req PreviewRequest) {
	if ctx.Err() != nil {
		return
	}
	preview, err := p.fetch(ctx, req)

	p.mu.Lock()
	defer p.mu.Unlock()
	if token != p.token || p.closed || ctx.Err() != nil {
		return
	}
	p.onResult(PreviewResult{Token: token, Preview: preview, Err: err})
}

// Latest returns the most recently issued token.
func (p *Previewer) Latest() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// Stop cancels any pending or in-flight request. Later requests are ignored.
func (p *Previewer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.stopLocked()
}

func (p *Previewer) stopLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}
