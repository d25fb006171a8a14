package medication

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/medtracker/medtracker/internal/domain/access"
	"github.com/medtracker/medtracker/internal/domain/identity"
	"github.com/medtracker/medtracker/internal/platform/blobstore"
	"github.com/medtracker/medtracker/pkg/caldate"
)

var errStorage = errors.New("connection reset")

type logKey struct {
	scheduleID int64
	day        string
}

// memStore backs every mock repository so a mock transactor can snapshot
// and restore the whole state.
type memStore struct {
	schedules       map[int64]*Schedule
	scheduleTablets []ScheduleTablet
	logs            map[logKey]*Log
	tablets         map[int64]*Tablet

	nextSchedule, nextLog, nextTablet int64

	readErr   error
	upsertErr error
}

func newMemStore() *memStore {
	return &memStore{
		schedules: make(map[int64]*Schedule),
		logs:      make(map[logKey]*Log),
		tablets:   make(map[int64]*Tablet),
	}
}

type snapshot struct {
	schedules       map[int64]*Schedule
	scheduleTablets []ScheduleTablet
	logs            map[logKey]*Log
	nextSchedule    int64
}

func (m *memStore) snapshot() snapshot {
	s := snapshot{
		schedules:       make(map[int64]*Schedule, len(m.schedules)),
		scheduleTablets: append([]ScheduleTablet(nil), m.scheduleTablets...),
		logs:            make(map[logKey]*Log, len(m.logs)),
		nextSchedule:    m.nextSchedule,
	}
	for k, v := range m.schedules {
		cp := *v
		s.schedules[k] = &cp
	}
	for k, v := range m.logs {
		cp := *v
		s.logs[k] = &cp
	}
	return s
}

func (m *memStore) restore(s snapshot) {
	m.schedules = s.schedules
	m.scheduleTablets = s.scheduleTablets
	m.logs = s.logs
	m.nextSchedule = s.nextSchedule
}

// -- Mock Transactor --

type mockTransactor struct {
	store *memStore
	calls int
}

func (t *mockTransactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	snap := t.store.snapshot()
	if err := fn(ctx); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}

// -- Mock Tablet Repository --

type mockTabletRepo struct{ store *memStore }

func (r *mockTabletRepo) Create(_ context.Context, t *Tablet) error {
	r.store.nextTablet++
	t.ID = r.store.nextTablet
	cp := *t
	r.store.tablets[t.ID] = &cp
	return nil
}

func (r *mockTabletRepo) GetByID(_ context.Context, id int64) (*Tablet, error) {
	if r.store.readErr != nil {
		return nil, r.store.readErr
	}
	t, ok := r.store.tablets[id]
	if !ok {
		return nil, fmt.Errorf("tablet get by id: %w", pgx.ErrNoRows)
	}
	cp := *t
	return &cp, nil
}

func (r *mockTabletRepo) List(_ context.Context) ([]*Tablet, error) {
	if r.store.readErr != nil {
		return nil, r.store.readErr
	}
	var out []*Tablet
	for _, t := range r.store.tablets {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// -- Mock Schedule Repository --

type mockScheduleRepo struct{ store *memStore }

func (r *mockScheduleRepo) Create(_ context.Context, s *Schedule) error {
	r.store.nextSchedule++
	s.ID = r.store.nextSchedule
	s.CreatedAt = time.Now()
	cp := *s
	r.store.schedules[s.ID] = &cp
	return nil
}

func (r *mockScheduleRepo) GetByID(_ context.Context, id int64) (*Schedule, error) {
	if r.store.readErr != nil {
		return nil, r.store.readErr
	}
	s, ok := r.store.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule get by id: %w", pgx.ErrNoRows)
	}
	cp := *s
	return &cp, nil
}

func (r *mockScheduleRepo) list(userID int64, keep func(*Schedule) bool) ([]*Schedule, error) {
	if r.store.readErr != nil {
		return nil, r.store.readErr
	}
	var out []*Schedule
	for _, s := range r.store.schedules {
		if s.UserID == userID && keep(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *mockScheduleRepo) ListByUser(_ context.Context, userID int64) ([]*Schedule, error) {
	return r.list(userID, func(*Schedule) bool { return true })
}

func (r *mockScheduleRepo) ListActiveOn(_ context.Context, userID int64, day caldate.Date) ([]*Schedule, error) {
	return r.list(userID, func(s *Schedule) bool { return s.ActiveOn(day) })
}

func (r *mockScheduleRepo) AddTablet(_ context.Context, st *ScheduleTablet) error {
	r.store.scheduleTablets = append(r.store.scheduleTablets, *st)
	return nil
}

func (r *mockScheduleRepo) TabletsFor(_ context.Context, ids []int64) ([]ScheduleTablet, error) {
	if r.store.readErr != nil {
		return nil, r.store.readErr
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []ScheduleTablet
	for _, st := range r.store.scheduleTablets {
		if want[st.ScheduleID] {
			out = append(out, st)
		}
	}
	return out, nil
}

// -- Mock Log Repository --

type mockLogRepo struct{ store *memStore }

func (r *mockLogRepo) Upsert(_ context.Context, l *Log) error {
	if r.store.upsertErr != nil {
		return r.store.upsertErr
	}
	key := logKey{l.ScheduleID, l.LogDate.String()}
	if existing, ok := r.store.logs[key]; ok {
		l.ID = existing.ID
	} else {
		r.store.nextLog++
		l.ID = r.store.nextLog
	}
	l.UpdatedAt = time.Now()
	cp := *l
	r.store.logs[key] = &cp
	return nil
}

func (r *mockLogRepo) ListOn(_ context.Context, ids []int64, day caldate.Date) ([]*Log, error) {
	if r.store.readErr != nil {
		return nil, r.store.readErr
	}
	var out []*Log
	for _, id := range ids {
		if l, ok := r.store.logs[logKey{id, day.String()}]; ok {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *mockLogRepo) ListForUser(_ context.Context, userID int64, start, end caldate.Date) ([]*Log, error) {
	if r.store.readErr != nil {
		return nil, r.store.readErr
	}
	var out []*Log
	for _, l := range r.store.logs {
		s, ok := r.store.schedules[l.ScheduleID]
		if !ok || s.UserID != userID || !l.LogDate.Within(start, &end) {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LogDate.Equal(out[j].LogDate) {
			return out[i].LogDate.Before(out[j].LogDate)
		}
		return out[i].ScheduleID < out[j].ScheduleID
	})
	return out, nil
}

// -- Users and mappings --

type mockUsers map[int64]*identity.User

func (m mockUsers) GetByID(_ context.Context, id int64) (*identity.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("user get by id: %w", pgx.ErrNoRows)
	}
	cp := *u
	return &cp, nil
}

type mockMappings map[[2]int64]bool

func (m mockMappings) Exists(_ context.Context, caretakerID, patientID int64) (bool, error) {
	return m[[2]int64{caretakerID, patientID}], nil
}

type countingRecorder struct {
	taken, missed, schedules int
}

func (r *countingRecorder) IntakeLogged(taken bool) {
	if taken {
		r.taken++
	} else {
		r.missed++
	}
}

func (r *countingRecorder) ScheduleCreated() { r.schedules++ }

// -- Fixture --

const (
	patient1   int64 = 1
	patient2   int64 = 2
	caretaker1 int64 = 10
	caretaker2 int64 = 11
)

type fixture struct {
	svc      *Service
	store    *memStore
	tx       *mockTransactor
	recorder *countingRecorder
	photos   *blobstore.InMemoryBlobStore
	tablet1  *Tablet
	tablet2  *Tablet
}

func newFixture(opts ...Option) *fixture {
	store := newMemStore()
	users := mockUsers{
		patient1:   {ID: patient1, Username: "p1", Role: identity.RolePatient},
		patient2:   {ID: patient2, Username: "p2", Role: identity.RolePatient},
		caretaker1: {ID: caretaker1, Username: "c1", Role: identity.RoleCaretaker},
		caretaker2: {ID: caretaker2, Username: "c2", Role: identity.RoleCaretaker},
	}
	mappings := mockMappings{{caretaker1, patient1}: true}

	f := &fixture{
		store:    store,
		tx:       &mockTransactor{store: store},
		recorder: &countingRecorder{},
		photos:   blobstore.NewInMemoryBlobStore(1 << 20),
	}
	tablets := &mockTabletRepo{store: store}
	opts = append([]Option{WithRecorder(f.recorder), WithPhotoStore(f.photos)}, opts...)
	f.svc = NewService(&mockScheduleRepo{store: store}, &mockLogRepo{store: store}, tablets,
		users, access.NewChecker(mappings, nil), f.tx, opts...)

	f.tablet1 = &Tablet{Name: "Metformin", Dosage: "500mg", Type: "tablet"}
	f.tablet2 = &Tablet{Name: "Lisinopril", Dosage: "10mg", Type: "tablet"}
	_ = tablets.Create(context.Background(), f.tablet1)
	_ = tablets.Create(context.Background(), f.tablet2)
	return f
}
