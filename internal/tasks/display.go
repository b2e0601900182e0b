package tasks

import (
	"context"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
	"go.uber.org/zap"
)

// DisplayCapturer captures the primary display
type DisplayCapturer interface {
	CapturePrimary(ctx context.Context) (image.Image, error)
}

// NewDisplayCapturer returns a ScreenCapturer when enabled, a DisabledCapturer otherwise
func NewDisplayCapturer(enabled bool, logger *zap.Logger) DisplayCapturer {
	if !enabled {
		logger.Info("Display capture disabled")
		return DisabledCapturer{}
	}
	return &ScreenCapturer{logger: logger}
}

// ScreenCapturer grabs the first active display.
// Headless hosts and service sessions without a desktop report ErrNoDisplay.
type ScreenCapturer struct {
	logger *zap.Logger
}

func (s *ScreenCapturer) CapturePrimary(ctx context.Context) (img image.Image, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Platform backends may panic when no display server is reachable
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("Recovered panic during display capture", zap.Any("panic", r))
			img = nil
			err = fmt.Errorf("display capture panicked: %v", r)
		}
	}()

	if screenshot.NumActiveDisplays() < 1 {
		return nil, ErrNoDisplay
	}

	rgba, err := screenshot.CaptureDisplay(0)
	if err != nil {
		return nil, fmt.Errorf("failed to capture display: %w", err)
	}
	return rgba, nil
}

// DisabledCapturer never captures
type DisabledCapturer struct{}

func (DisabledCapturer) CapturePrimary(context.Context) (image.Image, error) {
	return nil, ErrCaptureDisabled
}
