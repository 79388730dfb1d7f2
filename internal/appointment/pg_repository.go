package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type PgRepository struct {
	q querier
}

func NewPgRepository(q querier) *PgRepository {
	return &PgRepository{q: q}
}

// Helpers

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// classify maps storage errors onto the package sentinels.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return fmt.Errorf("%w: %s", ErrSlotTaken, pgErr.ConstraintName)
	case pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%w: %s", ErrTxConflict, pgErr.Message)
	}
	return err
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var nif *int64

	err := row.Scan(&p.SSN, &nif, &p.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.NIF = nif
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(&d.NIF, &d.Name, &d.Specialty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func (r *PgRepository) exists(ctx context.Context, sql string, args ...any) (bool, error) {
	var ok bool
	if err := r.q.QueryRow(ctx, sql, args...).Scan(&ok); err != nil {
		return false, classify(err)
	}
	return ok, nil
}

func (r *PgRepository) instants(ctx context.Context, sql string, args ...any) ([]time.Time, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// Catalog

func (r *PgRepository) IsLegalInstant(ctx context.Context, at time.Time) (bool, error) {
	return r.exists(ctx, `
		SELECT EXISTS (SELECT 1 FROM horario_aux WHERE horario = $1::timestamp)
	`, at)
}

func (r *PgRepository) WorksOn(ctx context.Context, nif int64, clinic string, date time.Time) (bool, error) {
	return r.exists(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM trabalha
			WHERE nif = $1 AND nome = $2 AND dia_da_semana = $3
		)
	`, nif, clinic, int(date.Weekday()))
}

func (r *PgRepository) Weekdays(ctx context.Context, nif int64, clinic string) ([]time.Weekday, error) {
	rows, err := r.q.Query(ctx, `
		SELECT DISTINCT dia_da_semana
		FROM trabalha
		WHERE nif = $1 AND nome = $2
		ORDER BY dia_da_semana
	`, nif, clinic)
	if err != nil {
		return nil, classify(err)
	}
	days, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (time.Weekday, error) {
		var d int
		err := row.Scan(&d)
		return time.Weekday(d), err
	})
	if err != nil {
		return nil, classify(err)
	}
	return days, nil
}

func (r *PgRepository) GridAfter(ctx context.Context, after time.Time, limit int) ([]time.Time, error) {
	return r.instants(ctx, `
		SELECT horario
		FROM horario_aux
		WHERE horario > $1::timestamp
		ORDER BY horario
		LIMIT $2
	`, after, limit)
}

func (r *PgRepository) DoctorsAt(ctx context.Context, clinic, specialty string) ([]Doctor, error) {
	rows, err := r.q.Query(ctx, `
		SELECT DISTINCT m.nif, m.nome, m.especialidade
		FROM medico m
		JOIN trabalha t ON t.nif = m.nif
		WHERE m.especialidade = $1 AND t.nome = $2
		ORDER BY m.nome, m.nif
	`, specialty, clinic)
	if err != nil {
		return nil, classify(err)
	}
	doctors, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Doctor, error) {
		d, err := scanDoctor(row)
		if err != nil {
			return Doctor{}, err
		}
		return *d, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return doctors, nil
}

// ExtendGrid inserts the given instants into the slot grid, skipping ones
// already present, and reports how many rows were added.
func (r *PgRepository) ExtendGrid(ctx context.Context, instants []time.Time) (int64, error) {
	if len(instants) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, at := range instants {
		batch.Queue(`INSERT INTO horario_aux (horario) VALUES ($1::timestamp) ON CONFLICT (horario) DO NOTHING`, at)
	}

	br := r.q.SendBatch(ctx, batch)
	defer br.Close()

	var added int64
	for range instants {
		tag, err := br.Exec()
		if err != nil {
			return added, fmt.Errorf("extend grid: %w", err)
		}
		added += tag.RowsAffected()
	}
	return added, nil
}

// Conflict index

func (r *PgRepository) DoctorBusy(ctx context.Context, nif int64, at time.Time) (bool, error) {
	return r.exists(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM consulta
			WHERE nif = $1 AND data = $2::timestamp::date AND hora = $2::timestamp::time
		)
	`, nif, at)
}

func (r *PgRepository) PatientBusy(ctx context.Context, ssn int64, at time.Time) (bool, error) {
	return r.exists(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM consulta
			WHERE ssn = $1 AND data = $2::timestamp::date AND hora = $2::timestamp::time
		)
	`, ssn, at)
}

func (r *PgRepository) DoctorBookings(ctx context.Context, nif int64, after time.Time) ([]time.Time, error) {
	return r.instants(ctx, `
		SELECT data + hora
		FROM consulta
		WHERE nif = $1 AND data + hora > $2::timestamp
		ORDER BY data, hora
	`, nif, after)
}

// Directory

func (r *PgRepository) GetPatient(ctx context.Context, ssn int64) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		SELECT ssn, nif, nome
		FROM paciente
		WHERE ssn = $1
	`, ssn)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctor(ctx context.Context, nif int64) (*Doctor, error) {
	row := r.q.QueryRow(ctx, `
		SELECT nif, nome, especialidade
		FROM medico
		WHERE nif = $1
	`, nif)
	return scanDoctor(row)
}

func (r *PgRepository) ListClinics(ctx context.Context) ([]Clinic, error) {
	rows, err := r.q.Query(ctx, `
		SELECT nome, morada
		FROM clinica
		ORDER BY nome
	`)
	if err != nil {
		return nil, classify(err)
	}
	clinics, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Clinic, error) {
		var c Clinic
		err := row.Scan(&c.Name, &c.Address)
		return c, err
	})
	if err != nil {
		return nil, classify(err)
	}
	return clinics, nil
}

func (r *PgRepository) ListSpecialties(ctx context.Context, clinic string) ([]string, error) {
	rows, err := r.q.Query(ctx, `
		SELECT DISTINCT m.especialidade
		FROM medico m
		JOIN trabalha t ON m.nif = t.nif
		WHERE t.nome = $1
		ORDER BY m.especialidade
	`, clinic)
	if err != nil {
		return nil, classify(err)
	}
	specialties, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify(err)
	}
	return specialties, nil
}

// Ledger

// CreateAppointment inserts the row and lets the consulta_id_seq column
// default assign the id.
func (r *PgRepository) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	err := r.q.QueryRow(ctx, `
		INSERT INTO consulta (ssn, nif, nome, data, hora)
		VALUES ($1, $2, $3, $4::timestamp::date, $4::timestamp::time)
		RETURNING id
	`, a.SSN, a.NIF, a.Clinic, a.Instant).Scan(&a.ID)
	if err != nil {
		return nil, classify(err)
	}
	return &a, nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, a Appointment) (int64, bool, error) {
	var id int64
	err := r.q.QueryRow(ctx, `
		DELETE FROM consulta
		WHERE ssn = $1 AND nif = $2 AND nome = $3
		  AND data = $4::timestamp::date AND hora = $4::timestamp::time
		RETURNING id
	`, a.SSN, a.NIF, a.Clinic, a.Instant).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, classify(err)
	}
	return id, true, nil
}

func (r *PgRepository) AppointmentExists(ctx context.Context, a Appointment) (bool, error) {
	return r.exists(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM consulta
			WHERE ssn = $1 AND nif = $2 AND nome = $3
			  AND data = $4::timestamp::date AND hora = $4::timestamp::time
		)
	`, a.SSN, a.NIF, a.Clinic, a.Instant)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", classify(err))
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
