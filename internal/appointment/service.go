package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tiagoc-santos/DataBase-Project/internal/config"
	redisclient "github.com/tiagoc-santos/DataBase-Project/internal/redis"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
)

const defaultTxAttempts = 3

type Service struct {
	store     Store
	locker    redisclient.Locker
	validator *Validator
	planner   *Planner
	attempts  int
	now       func() time.Time
	log       zerolog.Logger
}

type Option func(*Service)

// WithClock replaces the wall clock used for the past-date and lead-time
// rules.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, locker redisclient.Locker, cfg config.Config, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		locker:   locker,
		attempts: cfg.TxMaxAttempts,
		now:      WallClock(cfg.Location),
		log:      log.With().Str("component", "appointment").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = redisclient.NoopLocker{}
	}
	if s.attempts <= 0 {
		s.attempts = defaultTxAttempts
	}
	s.validator = NewValidator(s.now)
	s.planner = NewPlanner(s.now, cfg.LeadTime, cfg.SlotsPerDoctor)
	return s
}

// Book validates the request and inserts the appointment in the same
// serializable transaction. Rejections come back as *Rejection.
func (s *Service) Book(ctx context.Context, req Request) (*Appointment, error) {
	var created *Appointment

	err := s.withSlotLock(ctx, req, func(ctx context.Context) error {
		return s.inTx(ctx, func(ctx context.Context, q Queries) error {
			created = nil

			appt, reason, err := s.validator.ValidateBooking(ctx, q, req)
			if err != nil {
				return err
			}
			if reason != Admissible {
				return Reject(reason)
			}

			c, err := q.CreateAppointment(ctx, appt)
			if err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}

			if err := s.logEvent(ctx, q, EventAppointmentBooked, c); err != nil {
				return err
			}
			created = c
			return nil
		})
	})
	if err != nil {
		return nil, s.outcome(OpBook, req, err)
	}

	s.log.Info().
		Int64("appointment_id", created.ID).
		Int64("ssn", created.SSN).
		Int64("nif", created.NIF).
		Str("clinic", created.Clinic).
		Time("instant", created.Instant).
		Msg("appointment booked")
	return created, nil
}

// Cancel validates the request and deletes the exactly matching
// appointment in the same serializable transaction.
func (s *Service) Cancel(ctx context.Context, req Request) error {
	var removed Appointment

	err := s.withSlotLock(ctx, req, func(ctx context.Context) error {
		return s.inTx(ctx, func(ctx context.Context, q Queries) error {
			appt, reason, err := s.validator.ValidateCancellation(ctx, q, req)
			if err != nil {
				return err
			}
			if reason != Admissible {
				return Reject(reason)
			}

			id, ok, err := q.DeleteAppointment(ctx, appt)
			if err != nil {
				return fmt.Errorf("delete appointment: %w", err)
			}
			if !ok {
				return Reject(ReasonNoSuchAppointment)
			}
			appt.ID = id

			if err := s.logEvent(ctx, q, EventAppointmentCancelled, &appt); err != nil {
				return err
			}
			removed = appt
			return nil
		})
	})
	if err != nil {
		return s.outcome(OpCancel, req, err)
	}

	s.log.Info().
		Int64("ssn", removed.SSN).
		Int64("nif", removed.NIF).
		Str("clinic", removed.Clinic).
		Time("instant", removed.Instant).
		Msg("appointment cancelled")
	return nil
}

// Availability lists free slots per doctor. Results are never cached; a
// slot reported free may be taken before it is booked.
func (s *Service) Availability(ctx context.Context, clinic, specialty string) ([]Slot, error) {
	var slots []Slot
	err := s.store.Read(ctx, func(ctx context.Context, q Queries) error {
		var err error
		slots, err = s.planner.FindAvailability(ctx, q, clinic, specialty)
		return err
	})
	if err != nil {
		return nil, s.infraError("find availability", err)
	}
	return slots, nil
}

func (s *Service) Clinics(ctx context.Context) ([]Clinic, error) {
	var clinics []Clinic
	err := s.store.Read(ctx, func(ctx context.Context, q Queries) error {
		var err error
		clinics, err = q.ListClinics(ctx)
		return err
	})
	if err != nil {
		return nil, s.infraError("list clinics", err)
	}
	return clinics, nil
}

// Specialties lists the specialties practised at a clinic. A clinic with
// none, or no such clinic, yields ErrClinicNotFound.
func (s *Service) Specialties(ctx context.Context, clinic string) ([]string, error) {
	var specialties []string
	err := s.store.Read(ctx, func(ctx context.Context, q Queries) error {
		var err error
		specialties, err = q.ListSpecialties(ctx, clinic)
		return err
	})
	if err != nil {
		return nil, s.infraError("list specialties", err)
	}
	if len(specialties) == 0 {
		return nil, ErrClinicNotFound
	}
	return specialties, nil
}

// inTx retries the whole unit of work on serialization failures so the
// checks always run against the snapshot the write commits on.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		err = s.store.InTx(ctx, fn)
		if !errors.Is(err, ErrTxConflict) {
			return err
		}
		s.log.Debug().Err(err).Int("attempt", attempt).Msg("transaction conflict, retrying")
	}
	return err
}

// withSlotLock serializes requests for the same doctor and instant across
// processes. Requests whose identifiers or instant do not parse skip the
// lock; the validator rejects them.
func (s *Service) withSlotLock(ctx context.Context, req Request, fn func(ctx context.Context) error) error {
	nif, okNIF := parseID(req.Doctor)
	at, err := ParseInstant(req.Date, req.Time)
	if !okNIF || err != nil {
		return fn(ctx)
	}
	key := fmt.Sprintf("%d:%s", nif, at.Format("20060102T150405"))
	return s.locker.WithSlotLock(ctx, key, fn)
}

// outcome turns an error from a booking or cancellation unit into exactly
// one Rejection, or a wrapped infrastructure error.
func (s *Service) outcome(op Operation, req Request, err error) error {
	var rej *Rejection
	switch {
	case errors.As(err, &rej):
	case errors.Is(err, ErrSlotTaken):
		rej = &Rejection{Reason: ReasonSlotConflict, Err: err}
	case errors.Is(err, ErrPoolExhausted),
		errors.Is(err, ErrTxConflict),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		rej = &Rejection{Reason: ReasonResourceExhausted, Err: err}
	default:
		s.log.Error().Err(err).Str("op", string(op)).Str("clinic", req.Clinic).Msg("scheduling failed")
		return fmt.Errorf("%s appointment: %w", op, err)
	}

	s.log.Debug().
		Str("op", string(op)).
		Str("reason", string(rej.Reason)).
		Str("clinic", req.Clinic).
		Str("ssn", req.Patient).
		Str("nif", req.Doctor).
		Str("date", req.Date).
		Str("time", req.Time).
		Msg("request rejected")
	return rej
}

func (s *Service) infraError(what string, err error) error {
	if errors.Is(err, ErrPoolExhausted) {
		return &Rejection{Reason: ReasonResourceExhausted, Err: err}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *Service) logEvent(ctx context.Context, q Queries, eventType string, a *Appointment) error {
	payload := map[string]any{
		"ssn":     a.SSN,
		"nif":     a.NIF,
		"clinic":  a.Clinic,
		"instant": a.Instant.Format("2006-01-02T15:04:05"),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	var apptID *int64
	if a.ID != 0 {
		id := a.ID
		apptID = &id
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}
	if err := q.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("log %s: %w", eventType, err)
	}
	return nil
}
