// Package store implements the typed entity store over the snapshot
// key-value store.
//
// The four collections (active occurrences, occurrences, staff, vehicles)
// are held in memory as one DataStore and guarded by a single lock; every
// mutating command runs its full read-modify-write sequence under it. A
// mutation is applied to cloned collections, staged into the kvstore and
// saved once — only after the save succeeds is the in-memory view swapped,
// so a persistence failure can never leave the collections half-updated.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nunoalves/firecentral/internal/kvstore"
	"github.com/nunoalves/firecentral/internal/model"
)

// Top-level snapshot keys, one per collection.
const (
	keyActiveOccurrences = "active_occurrences"
	keyOccurrences       = "occurrences"
	keyStaff             = "staff"
	keyVehicles          = "vehicles"
)

var (
	// ErrNotFound is returned when a referenced entity id does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrValidation is returned when an assignment map references ids
	// outside the occurrence's own staff/vehicle lists.
	ErrValidation = errors.New("store: invalid assignment")
)

// Store owns the entity collections and their consistency invariants.
type Store struct {
	mu   sync.Mutex
	kv   *kvstore.Store
	data model.DataStore
}

// New loads the snapshot into a Store, seeding empty collections on first run.
func New(kv *kvstore.Store) (*Store, error) {
	if err := kv.Load(); err != nil {
		return nil, fmt.Errorf("loading store: %w", err)
	}

	s := &Store{kv: kv, data: model.NewDataStore()}

	seeded := false
	for key, out := range map[string]any{
		keyActiveOccurrences: &s.data.ActiveOccurrences,
		keyOccurrences:       &s.data.Occurrences,
		keyStaff:             &s.data.Staff,
		keyVehicles:          &s.data.Vehicles,
	} {
		err := kv.GetInto(key, out)
		if errors.Is(err, kvstore.ErrMiss) {
			seeded = true
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}
	}

	if seeded {
		if err := s.persist(s.data); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// persist stages all four collections and saves the snapshot. On success the
// given view becomes the committed in-memory state.
func (s *Store) persist(next model.DataStore) error {
	if err := s.kv.Insert(keyActiveOccurrences, next.ActiveOccurrences); err != nil {
		return fmt.Errorf("staging active occurrences: %w", err)
	}
	if err := s.kv.Insert(keyOccurrences, next.Occurrences); err != nil {
		return fmt.Errorf("staging occurrences: %w", err)
	}
	if err := s.kv.Insert(keyStaff, next.Staff); err != nil {
		return fmt.Errorf("staging staff: %w", err)
	}
	if err := s.kv.Insert(keyVehicles, next.Vehicles); err != nil {
		return fmt.Errorf("staging vehicles: %w", err)
	}
	if err := s.kv.Save(); err != nil {
		return fmt.Errorf("saving store: %w", err)
	}
	s.data = next
	return nil
}

func newID() string { return uuid.NewString() }

// clone deep-copies the current view so a mutation can be abandoned on a
// failed save without touching the committed state.
func (s *Store) clone() model.DataStore {
	next := model.DataStore{
		ActiveOccurrences: make(map[string]model.ActiveOccurrence, len(s.data.ActiveOccurrences)),
		Occurrences:       make(map[string]model.Occurrence, len(s.data.Occurrences)),
		Staff:             make(map[string]model.Staff, len(s.data.Staff)),
		Vehicles:          make(map[string]model.Vehicle, len(s.data.Vehicles)),
	}
	for id, ao := range s.data.ActiveOccurrences {
		next.ActiveOccurrences[id] = cloneActiveOccurrence(ao)
	}
	for id, o := range s.data.Occurrences {
		next.Occurrences[id] = o
	}
	for id, st := range s.data.Staff {
		next.Staff[id] = st
	}
	for id, v := range s.data.Vehicles {
		next.Vehicles[id] = v
	}
	return next
}

func cloneActiveOccurrence(ao model.ActiveOccurrence) model.ActiveOccurrence {
	out := ao
	out.StaffIDs = append([]string(nil), ao.StaffIDs...)
	out.VehicleIDs = append([]string(nil), ao.VehicleIDs...)
	out.VehicleAssignmentMap = make(map[string][]string, len(ao.VehicleAssignmentMap))
	for vehicleID, staffIDs := range ao.VehicleAssignmentMap {
		out.VehicleAssignmentMap[vehicleID] = append([]string(nil), staffIDs...)
	}
	return out
}

// DataStore returns a copy of the full aggregate, safe for the caller to
// serialize without holding the lock.
func (s *Store) DataStore() model.DataStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clone()
}

// --- Occurrence CRUD ---

// CreateOccurrence stores the occurrence under a freshly generated id,
// overwriting any caller-supplied id, and returns the new id.
func (s *Store) CreateOccurrence(o model.Occurrence) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	o.ID = newID()
	next.Occurrences[o.ID] = o

	if err := s.persist(next); err != nil {
		return "", err
	}
	return o.ID, nil
}

// UpdateOccurrence replaces the occurrence under id and returns the previous
// value, or nil if none existed. Callers diff the label to decide whether
// cached audio must be regenerated.
func (s *Store) UpdateOccurrence(id string, o model.Occurrence) (*model.Occurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	var previous *model.Occurrence
	if prev, ok := next.Occurrences[id]; ok {
		previous = &prev
	}
	o.ID = id
	next.Occurrences[id] = o

	if err := s.persist(next); err != nil {
		return nil, err
	}
	return previous, nil
}

// DeleteOccurrence removes the occurrence. Active occurrences referencing it
// keep their (now dangling) occurrenceId; deletion does not cascade.
func (s *Store) DeleteOccurrence(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	delete(next.Occurrences, id)
	return s.persist(next)
}

// --- Query accessors ---

func (s *Store) GetOccurrence(id string) (model.Occurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.data.Occurrences[id]
	if !ok {
		return model.Occurrence{}, fmt.Errorf("%w: occurrence %q", ErrNotFound, id)
	}
	return o, nil
}

func (s *Store) GetOccurrenceLabel(id string) (string, error) {
	o, err := s.GetOccurrence(id)
	if err != nil {
		return "", err
	}
	return o.Label, nil
}

func (s *Store) GetOccurrenceList() []model.Occurrence {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Occurrence, 0, len(s.data.Occurrences))
	for _, o := range s.data.Occurrences {
		out = append(out, o)
	}
	return out
}

func (s *Store) GetStaff(id string) (model.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.data.Staff[id]
	if !ok {
		return model.Staff{}, fmt.Errorf("%w: staff %q", ErrNotFound, id)
	}
	return st, nil
}

func (s *Store) GetStaffLabel(id string) (string, error) {
	st, err := s.GetStaff(id)
	if err != nil {
		return "", err
	}
	return st.Label, nil
}

func (s *Store) GetStaffList() []model.Staff {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Staff, 0, len(s.data.Staff))
	for _, st := range s.data.Staff {
		out = append(out, st)
	}
	return out
}

func (s *Store) GetVehicle(id string) (model.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data.Vehicles[id]
	if !ok {
		return model.Vehicle{}, fmt.Errorf("%w: vehicle %q", ErrNotFound, id)
	}
	return v, nil
}

func (s *Store) GetVehicleLabel(id string) (string, error) {
	v, err := s.GetVehicle(id)
	if err != nil {
		return "", err
	}
	return v.Label, nil
}

func (s *Store) GetVehicleCapacity(id string) (*int, error) {
	v, err := s.GetVehicle(id)
	if err != nil {
		return nil, err
	}
	return v.Capacity, nil
}

func (s *Store) GetVehicleList() []model.Vehicle {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Vehicle, 0, len(s.data.Vehicles))
	for _, v := range s.data.Vehicles {
		out = append(out, v)
	}
	return out
}
