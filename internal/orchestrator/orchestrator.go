// Package orchestrator drives re-encoding of the current session state. It
// coalesces rapid parameter changes behind per-kind quiet windows and applies
// encode results in request-issue order, discarding stale completions.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"imgpress/internal/encoder"
	"imgpress/internal/session"
	"imgpress/internal/stats"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultQualityWindow is the quiet window after a quality change.
	DefaultQualityWindow = 100 * time.Millisecond

	// DefaultDimensionWindow is the quiet window after a dimension edit.
	DefaultDimensionWindow = 300 * time.Millisecond
)

// Trigger classifies the parameter change that requested a re-encode.
type Trigger int

const (
	// TriggerLoad fires immediately after a new source image is loaded.
	TriggerLoad Trigger = iota
	// TriggerQuality follows a quality change; debounced with a short window.
	TriggerQuality
	// TriggerDimension follows a target dimension edit; debounced with a
	// longer window to ride out typing.
	TriggerDimension
	// TriggerFormat follows a format change; fires immediately.
	TriggerFormat
)

// Outcome describes a finished encode request delivered to the listener.
type Outcome struct {
	Seq    uint64
	Result *session.EncodedResult
	Err    error
}

// Options configures an Orchestrator.
type Options struct {
	QualityWindow   time.Duration
	DimensionWindow time.Duration

	// OnOutcome, if set, is invoked after every executed encode request,
	// including failed and superseded ones.
	OnOutcome func(Outcome)
}

// Orchestrator owns the debounce timer and the encode request sequence for a
// single session state.
type Orchestrator struct {
	state *session.State
	enc   encoder.Encoder
	log   *logrus.Logger
	stats *stats.Statistics

	qualityWindow   time.Duration
	dimensionWindow time.Duration
	onOutcome       func(Outcome)

	mu     sync.Mutex
	timer  *time.Timer
	seq    uint64
	closed bool
}

// New creates an Orchestrator over the given state and encode capability.
func New(state *session.State, enc encoder.Encoder, log *logrus.Logger, st *stats.Statistics, opts Options) *Orchestrator {
	if opts.QualityWindow <= 0 {
		opts.QualityWindow = DefaultQualityWindow
	}
	if opts.DimensionWindow <= 0 {
		opts.DimensionWindow = DefaultDimensionWindow
	}
	if st == nil {
		st = stats.NewStatistics()
	}
	return &Orchestrator{
		state:           state,
		enc:             enc,
		log:             log,
		stats:           st,
		qualityWindow:   opts.QualityWindow,
		dimensionWindow: opts.DimensionWindow,
		onOutcome:       opts.OnOutcome,
	}
}

// Notify registers a qualifying change. The pending quiet window, if any, is
// restarted; only the last change within a window results in an encode.
func (o *Orchestrator) Notify(t Trigger) {
	delay := o.window(t)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if o.timer != nil && o.timer.Stop() {
		// The previous request never fired; it is superseded, not queued.
		o.stats.IncrementEncodesSuperseded()
	}
	o.timer = time.AfterFunc(delay, o.fire)
}

// Recompress executes an encode of the current state synchronously, bypassing
// the quiet window. Used by the CLI path. Returns the applied result.
func (o *Orchestrator) Recompress(ctx context.Context) (*session.EncodedResult, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, fmt.Errorf("orchestrator closed")
	}
	o.seq++
	seq := o.seq
	o.mu.Unlock()

	return o.execute(ctx, seq)
}

// Close cancels any pending quiet window. Further notifications are ignored.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

// window maps a trigger kind to its quiet window. Loads and format switches
// are discrete actions and fire immediately.
func (o *Orchestrator) window(t Trigger) time.Duration {
	switch t {
	case TriggerQuality:
		return o.qualityWindow
	case TriggerDimension:
		return o.dimensionWindow
	default:
		return 0
	}
}

// fire runs on the debounce timer goroutine once a quiet window elapses.
func (o *Orchestrator) fire() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.seq++
	seq := o.seq
	o.mu.Unlock()

	result, err := o.execute(context.Background(), seq)
	if o.onOutcome != nil {
		o.onOutcome(Outcome{Seq: seq, Result: result, Err: err})
	}
}

// execute performs one encode request. A failed encode leaves the prior
// result untouched. A completion is applied only while it is still the
// newest issued request and the state generation it was computed against is
// still live; results from a superseded request or from before a reset or
// reload are discarded. The apply happens inside the sequence-check critical
// section so completions cannot reorder between check and apply.
func (o *Orchestrator) execute(ctx context.Context, seq uint64) (*session.EncodedResult, error) {
	snap, err := o.state.TakeSnapshot()
	if err != nil {
		return nil, err
	}
	o.stats.IncrementEncodesIssued()

	params := encodeParams(snap)
	data, err := o.enc.Encode(ctx, snap.Source.Pixels, params)
	if err != nil {
		o.stats.IncrementEncodesFailed()
		o.log.WithFields(logrus.Fields{
			"seq":    seq,
			"format": params.Format,
		}).Warnf("Encode failed: %v", err)
		return nil, fmt.Errorf("%w: %v", encoder.ErrEncodeFailed, err)
	}
	if len(data) == 0 {
		o.stats.IncrementEncodesFailed()
		return nil, encoder.ErrEncodeFailed
	}

	result := &session.EncodedResult{
		Data:           data,
		Size:           int64(len(data)),
		SavingsPercent: SavingsPercent(snap.Source.Size, int64(len(data))),
	}

	o.mu.Lock()
	applied := seq == o.seq && o.state.SetResultForGeneration(snap.Gen, result)
	o.mu.Unlock()
	if !applied {
		o.stats.IncrementEncodesSuperseded()
		o.log.WithField("seq", seq).Debug("Discarding stale encode result")
		return nil, nil
	}

	o.stats.IncrementEncodesCompleted()
	o.stats.AddBytesOut(result.Size)
	o.log.WithFields(logrus.Fields{
		"seq":     seq,
		"format":  params.Format,
		"size":    result.Size,
		"savings": result.SavingsPercent,
	}).Debug("Encode completed")
	return result, nil
}

// encodeParams resolves the effective encode request from a state snapshot.
// Unset or non-positive target dimensions fall back to the source dimensions,
// and quality is omitted for lossless formats.
func encodeParams(snap session.Snapshot) encoder.EncodeParams {
	w := snap.Params.TargetWidth
	h := snap.Params.TargetHeight
	if w < 1 {
		w = snap.Source.Width
	}
	if h < 1 {
		h = snap.Source.Height
	}
	quality := snap.Params.Quality
	if snap.Params.Format.Lossless() {
		quality = 0
	}
	return encoder.EncodeParams{
		Width:   w,
		Height:  h,
		Format:  snap.Params.Format,
		Quality: quality,
	}
}

// SavingsPercent computes the relative size reduction of the encoded output
// versus the source, rounded half away from zero. Negative values mean the
// output grew.
func SavingsPercent(sourceSize, encodedSize int64) int {
	if sourceSize <= 0 {
		return 0
	}
	return int(math.Round((1 - float64(encodedSize)/float64(sourceSize)) * 100))
}

// DownloadName derives the download filename for an encoded result:
// the original name without its extension, suffixed with "_compressed" and
// the extension of the output format.
func DownloadName(originalName string, f encoder.Format) string {
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	if base == "" || base == "." {
		base = "image"
	}
	return base + "_compressed" + f.Ext()
}
