// Package announcer assembles and plays dispatch announcements.
//
// Every spoken component (occurrence, vehicle, staff member, linking phrase)
// resolves to an audio cue through the audio cache, falling back to the
// speech synthesizer and populating the cache on miss. Cue resolution for an
// announcement fans out concurrently per vehicle and per crew member purely
// to hide synthesizer latency; the playback order is re-imposed
// deterministically once every cue is in hand.
//
// Two call modes exist. Announce is strict: any cue failure aborts the whole
// announcement before playback starts. WarmCue and RebuildCache are
// best-effort: failures are logged and swallowed, leaving a cache miss for
// the next attempt.
package announcer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nunoalves/firecentral/internal/audiocache"
	"github.com/nunoalves/firecentral/internal/model"
	"github.com/nunoalves/firecentral/internal/playback"
	"github.com/nunoalves/firecentral/internal/speech"
)

// ErrSynthesis marks a failed speech synthesis call.
var ErrSynthesis = errors.New("announcer: synthesis failed")

// Catalog is the narrow read surface the announcer needs from the entity
// store.
type Catalog interface {
	GetOccurrenceLabel(id string) (string, error)
	GetStaffLabel(id string) (string, error)
	GetVehicleLabel(id string) (string, error)
	GetVehicleCapacity(id string) (*int, error)
	GetOccurrenceList() []model.Occurrence
	GetStaffList() []model.Staff
	GetVehicleList() []model.Vehicle
}

// Options carries the fixed announcement components.
type Options struct {
	// AlertTonePath is the audio file prepended to every announcement.
	AlertTonePath string

	// VehiclePhrase and StaffPhrase are the linking phrases spoken before a
	// vehicle cue and before its crew list.
	VehiclePhrase string
	StaffPhrase   string

	// SynthesisTimeout bounds each individual synthesizer call.
	SynthesisTimeout time.Duration
}

// Assembler builds the ordered cue sequence for announcements.
type Assembler struct {
	catalog Catalog
	cache   *audiocache.Cache
	synth   speech.Synthesizer
	opts    Options
}

// New creates an Assembler.
func New(catalog Catalog, cache *audiocache.Cache, synth speech.Synthesizer, opts Options) *Assembler {
	if opts.SynthesisTimeout <= 0 {
		opts.SynthesisTimeout = 30 * time.Second
	}
	return &Assembler{catalog: catalog, cache: cache, synth: synth, opts: opts}
}

// resolveCue returns the cue for key from the cache, synthesizing and
// caching it on miss. After a synthesis the cue is re-read from the cache so
// hits and misses share one exit path.
func (a *Assembler) resolveCue(ctx context.Context, key string, u speech.Utterance) ([]byte, error) {
	data, err := a.cache.Get(key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, audiocache.ErrMiss) {
		slog.Error("audio cache read failed, falling back to synthesis", "key", key, "error", err)
	}

	synthCtx, cancel := context.WithTimeout(ctx, a.opts.SynthesisTimeout)
	defer cancel()

	audio, err := a.synth.Synthesize(synthCtx, u.Markup())
	if err != nil {
		return nil, fmt.Errorf("%w: cue %q: %v", ErrSynthesis, key, err)
	}
	if err := a.cache.Put(key, audio); err != nil {
		slog.Error("caching synthesized cue failed", "key", key, "error", err)
	}

	data, err = a.cache.Get(key)
	if err != nil {
		return nil, fmt.Errorf("re-reading synthesized cue %q: %w", key, err)
	}
	return data, nil
}

// WarmCue synthesizes and caches a cue best-effort. Failures are logged and
// swallowed; the primary operation that triggered the warm-up still
// succeeds and the next resolution simply misses.
func (a *Assembler) WarmCue(ctx context.Context, key string, u speech.Utterance) {
	if _, err := a.cache.Get(key); err == nil {
		return
	}

	synthCtx, cancel := context.WithTimeout(ctx, a.opts.SynthesisTimeout)
	defer cancel()

	audio, err := a.synth.Synthesize(synthCtx, u.Markup())
	if err != nil {
		slog.Warn("cue warm-up synthesis failed, leaving a miss", "key", key, "error", err)
		return
	}
	if err := a.cache.Put(key, audio); err != nil {
		slog.Warn("cue warm-up cache write failed", "key", key, "error", err)
	}
}

// EvictCue drops the cached cue for key.
func (a *Assembler) EvictCue(key string) error {
	return a.cache.Delete(key)
}

// ClearCache wipes every cached cue.
func (a *Assembler) ClearCache() error {
	return a.cache.Clear()
}

// vehicleCues holds the resolved audio for one vehicle and its sorted crew.
type vehicleCues struct {
	vehicle []byte
	staff   [][]byte
}

// Announce plays the dispatch announcement for the given occurrence and
// vehicle-to-crew assignment. It blocks until the sink drains. Strict mode:
// any cue resolution failure aborts the whole call with no partial playback.
func (a *Assembler) Announce(ctx context.Context, occurrenceID string, assignments map[string][]string, sink playback.Sink) error {
	start := time.Now()
	logger := slog.With("occurrence_id", occurrenceID)
	logger.Info("announcement started", "vehicles", len(assignments))

	vehicleSets, err := a.orderAssignments(assignments)
	if err != nil {
		return err
	}

	// Resolve vehicle and crew cues concurrently, one task per vehicle and,
	// nested, one per crew member. Results land by index so completion order
	// never affects playback order.
	cues := make([]vehicleCues, len(vehicleSets))
	g, gctx := errgroup.WithContext(ctx)
	for i, set := range vehicleSets {
		g.Go(func() error {
			label, err := a.catalog.GetVehicleLabel(set.vehicleID)
			if err != nil {
				return err
			}
			vehicleCue, err := a.resolveCue(gctx, set.vehicleID, speech.Vehicle(label))
			if err != nil {
				return err
			}

			staffCues := make([][]byte, len(set.staffIDs))
			sg, sctx := errgroup.WithContext(gctx)
			for j, staffID := range set.staffIDs {
				sg.Go(func() error {
					label, err := a.catalog.GetStaffLabel(staffID)
					if err != nil {
						return err
					}
					cue, err := a.resolveCue(sctx, staffID, speech.Staff(label))
					if err != nil {
						return err
					}
					staffCues[j] = cue
					return nil
				})
			}
			if err := sg.Wait(); err != nil {
				return err
			}

			cues[i] = vehicleCues{vehicle: vehicleCue, staff: staffCues}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	occurrenceLabel, err := a.catalog.GetOccurrenceLabel(occurrenceID)
	if err != nil {
		return err
	}
	occurrenceCue, err := a.resolveCue(ctx, occurrenceID, speech.Occurrence(occurrenceLabel))
	if err != nil {
		return err
	}

	vehiclePhraseCue, err := a.resolveCue(ctx, audiocache.HashString(a.opts.VehiclePhrase), speech.Pattern(a.opts.VehiclePhrase))
	if err != nil {
		return err
	}
	staffPhraseCue, err := a.resolveCue(ctx, audiocache.HashString(a.opts.StaffPhrase), speech.Pattern(a.opts.StaffPhrase))
	if err != nil {
		return err
	}

	alertTone, err := os.ReadFile(a.opts.AlertTonePath)
	if err != nil {
		return fmt.Errorf("reading alert tone: %w", err)
	}

	// Assemble: tone, occurrence, then per vehicle the linking phrase, the
	// vehicle cue, and the crew block when non-empty.
	sequence := [][]byte{alertTone, occurrenceCue}
	for _, vc := range cues {
		sequence = append(sequence, vehiclePhraseCue, vc.vehicle)
		if len(vc.staff) > 0 {
			sequence = append(sequence, staffPhraseCue)
			sequence = append(sequence, vc.staff...)
		}
	}

	for _, cue := range sequence {
		if err := sink.Append(cue); err != nil {
			return fmt.Errorf("enqueueing cue: %w", err)
		}
	}

	logger.Info("announcement assembled", "cues", len(sequence), "elapsed", time.Since(start))
	if err := sink.Wait(); err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	logger.Info("announcement complete", "duration", time.Since(start))
	return nil
}

// RebuildCache clears the cache and re-warms the linking phrases plus every
// occurrence, vehicle and staff cue. Individual synthesis failures are
// swallowed (logged by WarmCue); they leave misses for later resolution.
func (a *Assembler) RebuildCache(ctx context.Context) error {
	if err := a.cache.Clear(); err != nil {
		return err
	}

	a.WarmCue(ctx, audiocache.HashString(a.opts.VehiclePhrase), speech.Pattern(a.opts.VehiclePhrase))
	a.WarmCue(ctx, audiocache.HashString(a.opts.StaffPhrase), speech.Pattern(a.opts.StaffPhrase))

	var wg errgroup.Group
	for _, o := range a.catalog.GetOccurrenceList() {
		wg.Go(func() error {
			a.WarmCue(ctx, o.ID, speech.Occurrence(o.Label))
			return nil
		})
	}
	for _, v := range a.catalog.GetVehicleList() {
		wg.Go(func() error {
			a.WarmCue(ctx, v.ID, speech.Vehicle(v.Label))
			return nil
		})
	}
	for _, st := range a.catalog.GetStaffList() {
		wg.Go(func() error {
			a.WarmCue(ctx, st.ID, speech.Staff(st.Label))
			return nil
		})
	}
	_ = wg.Wait()

	slog.Info("audio cache rebuilt")
	return nil
}
