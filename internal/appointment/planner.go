package appointment

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultLeadTime       = time.Hour
	DefaultSlotsPerDoctor = 3
	gridPageSize          = 256
)

// AvailabilitySource is the read surface the planner needs.
type AvailabilitySource interface {
	Catalog
	ConflictIndex
}

// Planner computes the next free slots per doctor. It keeps no state
// between calls; every answer is only as fresh as the read it came from.
type Planner struct {
	now       func() time.Time
	leadTime  time.Duration
	perDoctor int
	pageSize  int
}

func NewPlanner(now func() time.Time, leadTime time.Duration, perDoctor int) *Planner {
	if perDoctor <= 0 {
		perDoctor = DefaultSlotsPerDoctor
	}
	if leadTime < 0 {
		leadTime = 0
	}
	return &Planner{
		now:       now,
		leadTime:  leadTime,
		perDoctor: perDoctor,
		pageSize:  gridPageSize,
	}
}

// FindAvailability returns, for each doctor of the specialty working at the
// clinic, up to perDoctor free grid instants after now+leadTime in
// chronological order. Doctors come in name, NIF order. No matching doctor
// yields an empty result, not an error.
func (p *Planner) FindAvailability(ctx context.Context, src AvailabilitySource, clinic, specialty string) ([]Slot, error) {
	doctors, err := src.DoctorsAt(ctx, clinic, specialty)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}

	after := p.now().Add(p.leadTime)

	var out []Slot
	for _, d := range doctors {
		instants, err := p.freeInstants(ctx, src, d.NIF, clinic, after)
		if err != nil {
			return nil, fmt.Errorf("doctor %d: %w", d.NIF, err)
		}
		for _, at := range instants {
			out = append(out, Slot{DoctorName: d.Name, DoctorNIF: d.NIF, Instant: at})
		}
	}
	return out, nil
}

func (p *Planner) freeInstants(ctx context.Context, src AvailabilitySource, nif int64, clinic string, after time.Time) ([]time.Time, error) {
	weekdays, err := src.Weekdays(ctx, nif, clinic)
	if err != nil {
		return nil, err
	}
	if len(weekdays) == 0 {
		return nil, nil
	}
	works := make(map[time.Weekday]bool, len(weekdays))
	for _, d := range weekdays {
		works[d] = true
	}

	bookings, err := src.DoctorBookings(ctx, nif, after)
	if err != nil {
		return nil, err
	}
	busy := make(map[int64]bool, len(bookings))
	for _, b := range bookings {
		busy[b.Unix()] = true
	}

	var free []time.Time
	cursor := after
	for len(free) < p.perDoctor {
		page, err := src.GridAfter(ctx, cursor, p.pageSize)
		if err != nil {
			return nil, err
		}
		for _, at := range page {
			if !works[at.Weekday()] || busy[at.Unix()] {
				continue
			}
			free = append(free, at)
			if len(free) == p.perDoctor {
				break
			}
		}
		if len(page) < p.pageSize {
			break
		}
		cursor = page[len(page)-1]
	}
	return free, nil
}
