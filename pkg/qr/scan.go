package qr

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Scan is one decoded QR text and the time it was captured.
type Scan struct {
	Text string
	At   time.Time
}

// Source delivers decoded scans, typically from a camera. Close releases
// the underlying device.
type Source interface {
	Frames() <-chan Scan
	Close() error
}

// Handler is invoked with the normalized token of each accepted scan.
type Handler func(ctx context.Context, token string) error

type ScanConfig struct {
	// Debounce is the minimum interval between two accepted scans.
	Debounce time.Duration
	// RepeatWindow suppresses the same code scanned again within it.
	RepeatWindow time.Duration
	// OnError receives handler failures; the loop keeps scanning.
	OnError func(token string, err error)

	now func() time.Time
}

const (
	DefaultDebounce     = 600 * time.Millisecond
	DefaultRepeatWindow = 5 * time.Second
)

// ScanLoop feeds scans from src into handle until ctx is cancelled or the
// source is exhausted. Scanning is paused while handle runs: scans captured
// before it returns are discarded, not queued. The source is always closed
// on return.
func ScanLoop(ctx context.Context, src Source, cfg ScanConfig, handle Handler) error {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.RepeatWindow <= 0 {
		cfg.RepeatWindow = DefaultRepeatWindow
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to release scan source")
		}
	}()

	var (
		lastAt   time.Time
		lastCode string
		resumeAt time.Time
		pending  *Scan
	)
	frames := src.Frames()
	for {
		var s Scan
		if pending != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, pending = *pending, nil
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case f, ok := <-frames:
				if !ok {
					return nil
				}
				s = f
			}
		}

		code := NormalizeToken(s.Text)
		if code == "" {
			continue
		}
		at := s.At
		if at.IsZero() {
			at = cfg.now()
		}
		if at.Before(resumeAt) {
			continue
		}
		if !lastAt.IsZero() {
			since := at.Sub(lastAt)
			if since < cfg.Debounce || (code == lastCode && since < cfg.RepeatWindow) {
				continue
			}
		}
		lastAt, lastCode = at, code

		if err := handle(ctx, code); err != nil && cfg.OnError != nil {
			cfg.OnError(code, err)
		}
		resumeAt = cfg.now()

		next, open := skipBuffered(frames, resumeAt)
		if !open {
			return nil
		}
		pending = next
	}
}

// skipBuffered drops the scans queued while the handler ran: those without
// a capture time and those captured before resumeAt. It stops at the first
// scan captured later and returns it. open is false once the source closed.
func skipBuffered(frames <-chan Scan, resumeAt time.Time) (next *Scan, open bool) {
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return nil, false
			}
			if f.At.IsZero() || f.At.Before(resumeAt) {
				continue
			}
			return &f, true
		default:
			return nil, true
		}
	}
}
