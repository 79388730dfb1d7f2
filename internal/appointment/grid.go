package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Window is a half-open range of the day, as offsets from midnight.
type Window struct {
	Start time.Duration
	End   time.Duration
}

// GridSpec describes how the slot grid is discretized.
type GridSpec struct {
	Step     time.Duration
	Windows  []Window
	Weekdays []time.Weekday // empty means every day
}

func DefaultGridSpec() GridSpec {
	return GridSpec{
		Step: 30 * time.Minute,
		Windows: []Window{
			{Start: 8 * time.Hour, End: 13 * time.Hour},
			{Start: 14 * time.Hour, End: 19 * time.Hour},
		},
	}
}

func (s GridSpec) Validate() error {
	if s.Step <= 0 {
		return errors.New("grid step must be positive")
	}
	for _, w := range s.Windows {
		if w.Start < 0 || w.End > 24*time.Hour || w.End <= w.Start {
			return fmt.Errorf("invalid grid window %s-%s", w.Start, w.End)
		}
	}
	return nil
}

func (s GridSpec) includes(d time.Weekday) bool {
	if len(s.Weekdays) == 0 {
		return true
	}
	for _, w := range s.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

// GenerateGrid lists the grid instants of days consecutive days starting
// at from's date, ascending.
func GenerateGrid(from time.Time, days int, spec GridSpec) []time.Time {
	if spec.Step <= 0 || days <= 0 {
		return nil
	}

	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	var out []time.Time
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		if !spec.includes(day.Weekday()) {
			continue
		}
		for _, w := range spec.Windows {
			for off := w.Start; off < w.End; off += spec.Step {
				out = append(out, day.Add(off))
			}
		}
	}
	return out
}

type GridWriter interface {
	ExtendGrid(ctx context.Context, instants []time.Time) (int64, error)
}

// GridMaintainer keeps the slot grid materialized horizon days ahead.
type GridMaintainer struct {
	writer  GridWriter
	spec    GridSpec
	horizon int
	now     func() time.Time
	log     zerolog.Logger
}

func NewGridMaintainer(w GridWriter, spec GridSpec, horizonDays int, now func() time.Time, log zerolog.Logger) *GridMaintainer {
	return &GridMaintainer{
		writer:  w,
		spec:    spec,
		horizon: horizonDays,
		now:     now,
		log:     log,
	}
}

// Extend inserts any missing instant between today and the horizon.
func (m *GridMaintainer) Extend(ctx context.Context) (int64, error) {
	instants := GenerateGrid(m.now(), m.horizon, m.spec)
	added, err := m.writer.ExtendGrid(ctx, instants)
	if err != nil {
		return added, fmt.Errorf("extend slot grid: %w", err)
	}

	m.log.Info().
		Int("candidates", len(instants)).
		Int64("added", added).
		Int("horizon_days", m.horizon).
		Msg("slot grid extended")
	return added, nil
}
