package store

import (
	"fmt"
	"slices"
	"time"

	"github.com/nunoalves/firecentral/internal/model"
)

// validateAssignment checks that the assignment map only references the
// occurrence's own vehicles and staff.
func validateAssignment(ao model.ActiveOccurrence) error {
	for vehicleID, staffIDs := range ao.VehicleAssignmentMap {
		if !slices.Contains(ao.VehicleIDs, vehicleID) {
			return fmt.Errorf("%w: assignment map references vehicle %q outside vehicleIds", ErrValidation, vehicleID)
		}
		for _, staffID := range staffIDs {
			if !slices.Contains(ao.StaffIDs, staffID) {
				return fmt.Errorf("%w: assignment map references staff %q outside staffIds", ErrValidation, staffID)
			}
		}
	}
	return nil
}

// markDispatched flips every referenced staff and vehicle to Dispatched.
// A missing reference is NotFound: assignments may only name real entities.
func markDispatched(next model.DataStore, ao model.ActiveOccurrence) error {
	for _, vehicleID := range ao.VehicleIDs {
		v, ok := next.Vehicles[vehicleID]
		if !ok {
			return fmt.Errorf("%w: vehicle %q", ErrNotFound, vehicleID)
		}
		v.State = model.VehicleDispatched
		next.Vehicles[vehicleID] = v
	}
	for _, staffID := range ao.StaffIDs {
		st, ok := next.Staff[staffID]
		if !ok {
			return fmt.Errorf("%w: staff %q", ErrNotFound, staffID)
		}
		st.State = model.StaffDispatched
		next.Staff[staffID] = st
	}
	return nil
}

// CreateActiveOccurrence records a new dispatch. Any staff or vehicle id the
// new record claims is first stripped from every other active occurrence, so
// an entity belongs to at most one active dispatch without the caller having
// to pre-clear stale assignments. Referenced entities are flipped to
// Dispatched, and the whole change persists as one unit.
func (s *Store) CreateActiveOccurrence(ao model.ActiveOccurrence) (string, error) {
	if err := validateAssignment(ao); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()

	for id, other := range next.ActiveOccurrences {
		other.StaffIDs = slices.DeleteFunc(other.StaffIDs, func(staffID string) bool {
			return slices.Contains(ao.StaffIDs, staffID)
		})
		other.VehicleIDs = slices.DeleteFunc(other.VehicleIDs, func(vehicleID string) bool {
			return slices.Contains(ao.VehicleIDs, vehicleID)
		})
		for vehicleID, staffIDs := range other.VehicleAssignmentMap {
			if slices.Contains(ao.VehicleIDs, vehicleID) {
				delete(other.VehicleAssignmentMap, vehicleID)
				continue
			}
			other.VehicleAssignmentMap[vehicleID] = slices.DeleteFunc(staffIDs, func(staffID string) bool {
				return slices.Contains(ao.StaffIDs, staffID)
			})
		}
		next.ActiveOccurrences[id] = other
	}

	ao.ID = newID()
	ao.CreationTime = time.Now().UnixMilli()
	next.ActiveOccurrences[ao.ID] = cloneActiveOccurrence(ao)

	if err := markDispatched(next, ao); err != nil {
		return "", err
	}

	if err := s.persist(next); err != nil {
		return "", err
	}
	return ao.ID, nil
}

// UpdateActiveOccurrence replaces the record and returns the previous value.
// Staff and vehicles dropped by the new record revert to Available; every id
// the new record keeps or adds is (re)set to Dispatched, so repeating the
// same payload is idempotent.
func (s *Store) UpdateActiveOccurrence(id string, ao model.ActiveOccurrence) (*model.ActiveOccurrence, error) {
	if err := validateAssignment(ao); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.data.ActiveOccurrences[id]
	if !ok {
		return nil, fmt.Errorf("%w: active occurrence %q", ErrNotFound, id)
	}
	previous = cloneActiveOccurrence(previous)

	next := s.clone()
	ao.ID = id
	ao.CreationTime = previous.CreationTime
	next.ActiveOccurrences[id] = cloneActiveOccurrence(ao)

	for _, vehicleID := range previous.VehicleIDs {
		if slices.Contains(ao.VehicleIDs, vehicleID) {
			continue
		}
		if v, ok := next.Vehicles[vehicleID]; ok {
			v.State = model.VehicleAvailable
			next.Vehicles[vehicleID] = v
		}
	}
	for _, staffID := range previous.StaffIDs {
		if slices.Contains(ao.StaffIDs, staffID) {
			continue
		}
		if st, ok := next.Staff[staffID]; ok {
			st.State = model.StaffAvailable
			next.Staff[staffID] = st
		}
	}

	if err := markDispatched(next, ao); err != nil {
		return nil, err
	}

	if err := s.persist(next); err != nil {
		return nil, err
	}
	return &previous, nil
}

// DeleteActiveOccurrence concludes a dispatch: the record is removed and
// every referenced staff or vehicle still present reverts to Available.
// Deleting an unknown id is a no-op.
func (s *Store) DeleteActiveOccurrence(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ao, ok := s.data.ActiveOccurrences[id]
	if !ok {
		return nil
	}

	next := s.clone()
	delete(next.ActiveOccurrences, id)

	for _, vehicleID := range ao.VehicleIDs {
		if v, ok := next.Vehicles[vehicleID]; ok {
			v.State = model.VehicleAvailable
			next.Vehicles[vehicleID] = v
		}
	}
	for _, staffID := range ao.StaffIDs {
		if st, ok := next.Staff[staffID]; ok {
			st.State = model.StaffAvailable
			next.Staff[staffID] = st
		}
	}

	return s.persist(next)
}

// GetActiveOccurrence returns the active occurrence with the given id.
func (s *Store) GetActiveOccurrence(id string) (model.ActiveOccurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ao, ok := s.data.ActiveOccurrences[id]
	if !ok {
		return model.ActiveOccurrence{}, fmt.Errorf("%w: active occurrence %q", ErrNotFound, id)
	}
	return cloneActiveOccurrence(ao), nil
}

// GetActiveOccurrenceByStaff scans for the dispatch currently holding the
// given staff member. NotFound when the member is not dispatched anywhere.
func (s *Store) GetActiveOccurrenceByStaff(staffID string) (model.ActiveOccurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ao := range s.data.ActiveOccurrences {
		if slices.Contains(ao.StaffIDs, staffID) {
			return cloneActiveOccurrence(ao), nil
		}
	}
	return model.ActiveOccurrence{}, fmt.Errorf("%w: no active occurrence with staff %q", ErrNotFound, staffID)
}

// GetActiveOccurrenceByVehicle scans for the dispatch currently holding the
// given vehicle. NotFound when the vehicle is not dispatched anywhere.
func (s *Store) GetActiveOccurrenceByVehicle(vehicleID string) (model.ActiveOccurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ao := range s.data.ActiveOccurrences {
		if slices.Contains(ao.VehicleIDs, vehicleID) {
			return cloneActiveOccurrence(ao), nil
		}
	}
	return model.ActiveOccurrence{}, fmt.Errorf("%w: no active occurrence with vehicle %q", ErrNotFound, vehicleID)
}

// GetActiveOccurrenceList returns all in-progress dispatches.
func (s *Store) GetActiveOccurrenceList() []model.ActiveOccurrence {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.ActiveOccurrence, 0, len(s.data.ActiveOccurrences))
	for _, ao := range s.data.ActiveOccurrences {
		out = append(out, cloneActiveOccurrence(ao))
	}
	return out
}

// GetActiveOccurrenceListByOccurrence returns the dispatches referencing the
// given occurrence category, dangling references included.
func (s *Store) GetActiveOccurrenceListByOccurrence(occurrenceID string) []model.ActiveOccurrence {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ActiveOccurrence
	for _, ao := range s.data.ActiveOccurrences {
		if ao.OccurrenceID == occurrenceID {
			out = append(out, cloneActiveOccurrence(ao))
		}
	}
	return out
}
