// Package publish uploads scene products to object storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/clock"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/ports"
)

// DefaultRetryDelay is the pause before an artifact is retried through the fallback.
const DefaultRetryDelay = 10 * time.Second

// Artifact is one local file and its destination key.
type Artifact struct {
	LocalPath string
	Key       string
}

// Report lists what happened to each artifact.
type Report struct {
	Uploaded  []string
	Fallbacks []string
	Failed    []string
}

// Publisher uploads through a primary store and retries each failed artifact once
// through a fallback store.
type Publisher struct {
	primary    ports.ObjectStore
	fallback   ports.ObjectStore
	clock      clock.Clock
	retryDelay time.Duration
	logger     *slog.Logger
	onFallback func()
}

// NewPublisher wires both transfer paths. A nil fallback means primary failures are final.
func NewPublisher(primary, fallback ports.ObjectStore, clk clock.Clock, retryDelay time.Duration, log *slog.Logger) *Publisher {
	if clk == nil {
		clk = clock.Real{}
	}
	if retryDelay < 0 {
		retryDelay = 0
	}
	return &Publisher{primary: primary, fallback: fallback, clock: clk, retryDelay: retryDelay, logger: log}
}

// OnFallback registers a hook invoked whenever the fallback path is used.
func (p *Publisher) OnFallback(fn func()) {
	p.onFallback = fn
}

// Publish uploads every artifact in order. A failure of one artifact never stops the
// others; the returned error joins the artifacts that failed both paths and wraps
// domain.ErrPublish.
func (p *Publisher) Publish(ctx context.Context, bucket string, artifacts []Artifact) (Report, error) {
	var (
		rep  Report
		errs []error
	)
	if p.primary == nil {
		return rep, errors.New("object store is not configured")
	}
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		p.info("uploading file", "file", a.LocalPath, "destination", a.Key)
		err := p.primary.Put(ctx, a.LocalPath, bucket, a.Key)
		if err == nil {
			rep.Uploaded = append(rep.Uploaded, a.Key)
			continue
		}
		p.warn("primary upload failed", "key", a.Key, "error", err)

		if fbErr := p.retry(ctx, bucket, a); fbErr != nil {
			rep.Failed = append(rep.Failed, a.Key)
			errs = append(errs, fmt.Errorf("%w: %s: primary: %v; fallback: %w", domain.ErrPublish, a.Key, err, fbErr))
			continue
		}
		rep.Uploaded = append(rep.Uploaded, a.Key)
		rep.Fallbacks = append(rep.Fallbacks, a.Key)
	}
	return rep, errors.Join(errs...)
}

func (p *Publisher) retry(ctx context.Context, bucket string, a Artifact) error {
	if p.fallback == nil {
		return errors.New("no fallback transfer configured")
	}
	if p.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(p.retryDelay):
		}
	}
	if p.onFallback != nil {
		p.onFallback()
	}
	p.info("attempting upload through fallback", "key", a.Key)
	if err := p.fallback.Put(ctx, a.LocalPath, bucket, a.Key); err != nil {
		p.logError("fallback upload failed", "key", a.Key, "error", err)
		return err
	}
	return nil
}

func (p *Publisher) info(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Publisher) warn(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

func (p *Publisher) logError(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Error(msg, args...)
	}
}
