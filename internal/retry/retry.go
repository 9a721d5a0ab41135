package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *slog.Logger
}

var Default = Config{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    10 * time.Second,
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op with exponential backoff until it succeeds, returns a
// Permanent error, attempts run out or ctx is done.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = Default.MaxAttempts
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	var zero T
	var lastErr error
	b := Backoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := b.Next()
		log.Warn("attempt failed, retrying",
			"attempt", attempt, "max", cfg.MaxAttempts, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, fmt.Errorf("all %d attempts failed, last error: %w", cfg.MaxAttempts, lastErr)
}

// HTTP executes a request with retry on transport errors and 5xx.
// buildReq is called per attempt because request bodies are consumed.
func HTTP(ctx context.Context, client *http.Client, cfg Config, buildReq func() (*http.Request, error)) (*http.Response, error) {
	return Do(ctx, cfg, func(context.Context) (*http.Response, error) {
		req, err := buildReq()
		if err != nil {
			return nil, Permanent(fmt.Errorf("build request: %w", err))
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 500 {
			return resp, nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	})
}

// Backoff yields doubling delays from Base, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	cur time.Duration
}

func (b *Backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.Base
		if b.cur <= 0 {
			b.cur = time.Second
		}
		return b.cur
	}
	b.cur *= 2
	if b.Max > 0 && b.cur > b.Max {
		b.cur = b.Max
	}
	return b.cur
}

func (b *Backoff) Reset() { b.cur = 0 }
