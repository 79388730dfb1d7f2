package appointment

import (
	"context"
	"sort"
	"sync"
	"time"
)

type workKey struct {
	nif     int64
	clinic  string
	weekday time.Weekday
}

// memStore is an in-memory Store. Units of work are serialized by one
// mutex and rolled back when fn fails.
type memStore struct {
	mu sync.Mutex

	clinics  map[string]Clinic
	doctors  map[int64]Doctor
	patients map[int64]Patient
	work     map[workKey]bool
	grid     []time.Time
	appts    []Appointment
	events   []EventLog
	nextID   int64

	// txErrs are returned by successive InTx calls before fn runs.
	txErrs  []error
	readErr error
	txCalls int
	// blindConflicts makes DoctorBusy and PatientBusy always answer false,
	// leaving duplicates to the uniqueness guard in CreateAppointment.
	blindConflicts bool
}

func newMemStore() *memStore {
	return &memStore{
		clinics:  make(map[string]Clinic),
		doctors:  make(map[int64]Doctor),
		patients: make(map[int64]Patient),
		work:     make(map[workKey]bool),
		nextID:   1,
	}
}

func (s *memStore) addClinic(name string) {
	s.clinics[name] = Clinic{Name: name, Address: name + " street"}
}

func (s *memStore) addDoctor(nif int64, name, specialty string) {
	s.doctors[nif] = Doctor{NIF: nif, Name: name, Specialty: specialty}
}

func (s *memStore) addPatient(ssn int64, nif *int64) {
	s.patients[ssn] = Patient{SSN: ssn, NIF: nif, Name: "patient"}
}

func (s *memStore) addWork(nif int64, clinic string, days ...time.Weekday) {
	for _, d := range days {
		s.work[workKey{nif: nif, clinic: clinic, weekday: d}] = true
	}
}

func (s *memStore) setGrid(instants []time.Time) {
	s.grid = append([]time.Time(nil), instants...)
	sort.Slice(s.grid, func(i, j int) bool { return s.grid[i].Before(s.grid[j]) })
}

func (s *memStore) addAppointment(a Appointment) {
	a.ID = s.nextID
	s.nextID++
	s.appts = append(s.appts, a)
}

func (s *memStore) appointments() []Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Appointment(nil), s.appts...)
}

func (s *memStore) eventLog() []EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EventLog(nil), s.events...)
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txCalls++
	if len(s.txErrs) > 0 {
		err := s.txErrs[0]
		s.txErrs = s.txErrs[1:]
		if err != nil {
			return err
		}
	}

	appts := append([]Appointment(nil), s.appts...)
	events := append([]EventLog(nil), s.events...)
	nextID := s.nextID

	if err := fn(ctx, memQueries{s}); err != nil {
		s.appts, s.events, s.nextID = appts, events, nextID
		return err
	}
	return nil
}

func (s *memStore) Read(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readErr != nil {
		return s.readErr
	}
	return fn(ctx, memQueries{s})
}

// memQueries assumes the caller holds s.mu.
type memQueries struct {
	s *memStore
}

func (q memQueries) IsLegalInstant(_ context.Context, at time.Time) (bool, error) {
	for _, g := range q.s.grid {
		if g.Equal(at) {
			return true, nil
		}
	}
	return false, nil
}

func (q memQueries) WorksOn(_ context.Context, nif int64, clinic string, date time.Time) (bool, error) {
	return q.s.work[workKey{nif: nif, clinic: clinic, weekday: date.Weekday()}], nil
}

func (q memQueries) Weekdays(_ context.Context, nif int64, clinic string) ([]time.Weekday, error) {
	var days []time.Weekday
	for k := range q.s.work {
		if k.nif == nif && k.clinic == clinic {
			days = append(days, k.weekday)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days, nil
}

func (q memQueries) GridAfter(_ context.Context, after time.Time, limit int) ([]time.Time, error) {
	var out []time.Time
	for _, g := range q.s.grid {
		if !g.After(after) {
			continue
		}
		out = append(out, g)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (q memQueries) DoctorsAt(_ context.Context, clinic, specialty string) ([]Doctor, error) {
	var out []Doctor
	for _, d := range q.s.doctors {
		if d.Specialty != specialty {
			continue
		}
		for k := range q.s.work {
			if k.nif == d.NIF && k.clinic == clinic {
				out = append(out, d)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].NIF < out[j].NIF
	})
	return out, nil
}

func (q memQueries) DoctorBusy(_ context.Context, nif int64, at time.Time) (bool, error) {
	if q.s.blindConflicts {
		return false, nil
	}
	for _, a := range q.s.appts {
		if a.NIF == nif && a.Instant.Equal(at) {
			return true, nil
		}
	}
	return false, nil
}

func (q memQueries) PatientBusy(_ context.Context, ssn int64, at time.Time) (bool, error) {
	if q.s.blindConflicts {
		return false, nil
	}
	for _, a := range q.s.appts {
		if a.SSN == ssn && a.Instant.Equal(at) {
			return true, nil
		}
	}
	return false, nil
}

func (q memQueries) DoctorBookings(_ context.Context, nif int64, after time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, a := range q.s.appts {
		if a.NIF == nif && a.Instant.After(after) {
			out = append(out, a.Instant)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (q memQueries) GetPatient(_ context.Context, ssn int64) (*Patient, error) {
	p, ok := q.s.patients[ssn]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (q memQueries) GetDoctor(_ context.Context, nif int64) (*Doctor, error) {
	d, ok := q.s.doctors[nif]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (q memQueries) ListClinics(_ context.Context) ([]Clinic, error) {
	out := make([]Clinic, 0, len(q.s.clinics))
	for _, c := range q.s.clinics {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (q memQueries) ListSpecialties(_ context.Context, clinic string) ([]string, error) {
	seen := make(map[string]bool)
	for k := range q.s.work {
		if k.clinic != clinic {
			continue
		}
		if d, ok := q.s.doctors[k.nif]; ok {
			seen[d.Specialty] = true
		}
	}
	out := make([]string, 0, len(seen))
	for sp := range seen {
		out = append(out, sp)
	}
	sort.Strings(out)
	return out, nil
}

func (q memQueries) CreateAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	for _, existing := range q.s.appts {
		if !existing.Instant.Equal(a.Instant) {
			continue
		}
		if existing.NIF == a.NIF || existing.SSN == a.SSN {
			return nil, ErrSlotTaken
		}
	}
	a.ID = q.s.nextID
	q.s.nextID++
	q.s.appts = append(q.s.appts, a)
	return &a, nil
}

func (q memQueries) DeleteAppointment(_ context.Context, a Appointment) (int64, bool, error) {
	for i, existing := range q.s.appts {
		if sameBooking(existing, a) {
			q.s.appts = append(q.s.appts[:i:i], q.s.appts[i+1:]...)
			return existing.ID, true, nil
		}
	}
	return 0, false, nil
}

func (q memQueries) AppointmentExists(_ context.Context, a Appointment) (bool, error) {
	for _, existing := range q.s.appts {
		if sameBooking(existing, a) {
			return true, nil
		}
	}
	return false, nil
}

func (q memQueries) InsertEvent(_ context.Context, ev EventLog) error {
	ev.ID = int64(len(q.s.events) + 1)
	q.s.events = append(q.s.events, ev)
	return nil
}

func sameBooking(a, b Appointment) bool {
	return a.SSN == b.SSN && a.NIF == b.NIF && a.Clinic == b.Clinic && a.Instant.Equal(b.Instant)
}
