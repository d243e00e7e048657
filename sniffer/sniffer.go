// Package sniffer drives a capture: it pulls frames from a source, dissects each
// one to completion and hands the result to a reporter.
package sniffer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	pcap "github.com/packetcap/go-sniff"
	"github.com/packetcap/go-sniff/dissect"
)

// ErrSource the capture source failed. Per-frame decode problems never produce it.
var ErrSource = errors.New("capture source failed")

// Reporter consumes dissected frames in capture order.
type Reporter interface {
	Write(d dissect.DissectedFrame) error
}

// Stats of a finished run.
type Stats struct {
	Frames  int
	Bytes   int
	Stops   map[string]int
	Elapsed time.Duration
}

type Sniffer struct {
	src      dissect.Source
	engine   *dissect.Engine
	reporter Reporter
	metrics  *Metrics
	limit    int
	id       uuid.UUID
	logger   *log.Entry
}

type Option func(*Sniffer)

func WithEngine(e *dissect.Engine) Option {
	return func(s *Sniffer) {
		s.engine = e
	}
}

func WithReporter(r Reporter) Option {
	return func(s *Sniffer) {
		s.reporter = r
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Sniffer) {
		s.metrics = m
	}
}

// WithCount stop after n frames; 0 means no limit.
func WithCount(n int) Option {
	return func(s *Sniffer) {
		s.limit = n
	}
}

func New(src dissect.Source, opts ...Option) *Sniffer {
	s := &Sniffer{
		src:    src,
		engine: dissect.NewEngine(),
		id:     uuid.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.WithField("run", s.id.String())
	return s
}

// ID identifies this run in logs.
func (s *Sniffer) ID() uuid.UUID {
	return s.id
}

// Run captures until the source is exhausted, ctx is cancelled or the frame
// limit is reached, all of which end the run without error. A failing source
// ends it with an error wrapping ErrSource. Cancellation is observed between
// frames; a frame already read is always dissected and reported.
func (s *Sniffer) Run(ctx context.Context) (Stats, error) {
	var (
		stats = Stats{Stops: make(map[string]int)}
		start = time.Now()
	)
	s.logger.Info("capture started")
	err := s.run(ctx, &stats)
	stats.Elapsed = time.Since(start)
	s.logger.WithFields(log.Fields{
		"frames":  stats.Frames,
		"bytes":   stats.Bytes,
		"elapsed": stats.Elapsed,
	}).Info("capture finished")
	return stats, err
}

func (s *Sniffer) run(ctx context.Context, stats *Stats) error {
	for !s.done(ctx, stats) {
		// Frames ends at the first source error; a read timeout only restarts it
		var srcErr error
		for f, err := range dissect.Frames(s.src) {
			if err != nil {
				srcErr = err
				break
			}
			if err := s.handle(f, stats); err != nil {
				return err
			}
			if s.done(ctx, stats) {
				return nil
			}
		}
		switch {
		case errors.Is(srcErr, pcap.ErrReadTimeout):
			continue
		case errors.Is(srcErr, io.EOF):
			s.logger.Debug("end of capture")
			return nil
		case errors.Is(srcErr, context.Canceled), errors.Is(srcErr, context.DeadlineExceeded), errors.Is(srcErr, pcap.ErrClosed):
			s.logger.WithError(srcErr).Debug("stopping")
			return nil
		default:
			s.metrics.sourceError()
			s.logger.WithError(srcErr).Error("capture source failed")
			return fmt.Errorf("%w: %w", ErrSource, srcErr)
		}
	}
	return nil
}

// done whether the run should stop before reading another frame.
func (s *Sniffer) done(ctx context.Context, stats *Stats) bool {
	if err := ctx.Err(); err != nil {
		s.logger.WithError(err).Debug("stopping")
		return true
	}
	if s.limit > 0 && stats.Frames >= s.limit {
		s.logger.WithField("count", s.limit).Debug("frame limit reached")
		return true
	}
	return false
}

func (s *Sniffer) handle(f dissect.RawFrame, stats *Stats) error {
	d, derr := s.engine.Dissect(f)
	if derr != nil {
		s.logger.WithFields(log.Fields{
			"caplen": f.Info.CaptureLength,
			"len":    f.Info.Length,
		}).WithError(derr).Debug("frame not decoded")
	}
	stats.Frames++
	stats.Bytes += len(f.Data)
	stats.Stops[dissect.Reason(d.Stop)]++
	s.metrics.observe(d)
	if s.reporter != nil {
		if err := s.reporter.Write(d); err != nil {
			return fmt.Errorf("failed to report frame %d: %w", stats.Frames, err)
		}
	}
	return nil
}
