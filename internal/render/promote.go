package render

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/uda-platform/doc-extractor/internal/extraction"
)

// Mode selects how pages are rendered.
type Mode string

// Render modes.
const (
	ModeAuto     Mode = "auto"
	ModeHeadless Mode = "headless"
	ModeStatic   Mode = "static"
)

// ErrHeadlessUnavailable indicates headless rendering was requested but no
// browser is configured.
var ErrHeadlessUnavailable = errors.New("render: headless browser unavailable")

// PromotingRenderer implements extraction.Renderer. In auto mode it fetches
// statically first and promotes to the headless browser only when the
// detector says the static HTML is not the real page.
type PromotingRenderer struct {
	mode     Mode
	static   extraction.Renderer
	headless extraction.Renderer
	detector *Detector
	logger   *zap.Logger
}

// NewPromoting wires the two renderers together. headless may be nil; auto
// mode then serves whatever the static fetch produced.
func NewPromoting(mode Mode, static, headless extraction.Renderer, detector *Detector, logger *zap.Logger) *PromotingRenderer {
	return &PromotingRenderer{
		mode:     mode,
		static:   static,
		headless: headless,
		detector: detector,
		logger:   logger,
	}
}

// Render fetches one URL according to the configured mode.
func (r *PromotingRenderer) Render(ctx context.Context, rawURL string) (extraction.RenderedPage, error) {
	switch r.mode {
	case ModeStatic:
		return r.static.Render(ctx, rawURL)
	case ModeHeadless:
		if r.headless == nil {
			return extraction.RenderedPage{}, ErrHeadlessUnavailable
		}
		return r.headless.Render(ctx, rawURL)
	}

	probe, probeErr := r.static.Render(ctx, rawURL)
	if probeErr == nil && probe.StatusCode >= 400 {
		// The server answered; JavaScript will not turn a 404 into a page.
		return probe, nil
	}
	if probeErr == nil && !r.detector.NeedsJS([]byte(probe.HTML)) {
		return probe, nil
	}
	if r.headless == nil {
		if probeErr != nil {
			return extraction.RenderedPage{}, probeErr
		}
		return probe, nil
	}

	if probeErr != nil {
		r.logger.Debug("static fetch failed, promoting to headless",
			zap.String("url", rawURL),
			zap.Error(probeErr),
		)
	} else {
		r.logger.Debug("static page needs JavaScript, promoting to headless",
			zap.String("url", rawURL),
		)
	}

	page, err := r.headless.Render(ctx, rawURL)
	if err != nil {
		if probeErr == nil {
			r.logger.Warn("headless render failed, serving static page",
				zap.String("url", rawURL),
				zap.Error(err),
			)
			return probe, nil
		}
		return extraction.RenderedPage{}, fmt.Errorf("headless render after failed static fetch: %w", err)
	}
	return page, nil
}
