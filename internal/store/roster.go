package store

import (
	"slices"

	"github.com/nunoalves/firecentral/internal/model"
)

// CreateStaff stores the member under a freshly generated id and returns it.
func (s *Store) CreateStaff(st model.Staff) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	st.ID = newID()
	next.Staff[st.ID] = st

	if err := s.persist(next); err != nil {
		return "", err
	}
	return st.ID, nil
}

// UpdateStaff replaces the member under id and returns the previous value,
// or nil if none existed.
func (s *Store) UpdateStaff(id string, st model.Staff) (*model.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	var previous *model.Staff
	if prev, ok := next.Staff[id]; ok {
		previous = &prev
	}
	st.ID = id
	next.Staff[id] = st

	if err := s.persist(next); err != nil {
		return nil, err
	}
	return previous, nil
}

// DeleteStaff removes the member. If they were dispatched, the owning active
// occurrence loses the id from its staff list and from every vehicle's
// assignment entry; an already-orphaned reference is not an error.
func (s *Store) DeleteStaff(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	removed, existed := next.Staff[id]
	delete(next.Staff, id)

	if existed && removed.State == model.StaffDispatched {
		for aoID, ao := range next.ActiveOccurrences {
			if !slices.Contains(ao.StaffIDs, id) {
				continue
			}
			ao.StaffIDs = slices.DeleteFunc(ao.StaffIDs, func(staffID string) bool {
				return staffID == id
			})
			for vehicleID, staffIDs := range ao.VehicleAssignmentMap {
				ao.VehicleAssignmentMap[vehicleID] = slices.DeleteFunc(staffIDs, func(staffID string) bool {
					return staffID == id
				})
			}
			next.ActiveOccurrences[aoID] = ao
			break
		}
	}

	return s.persist(next)
}

// CreateVehicle stores the vehicle under a freshly generated id and returns it.
func (s *Store) CreateVehicle(v model.Vehicle) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	v.ID = newID()
	next.Vehicles[v.ID] = v

	if err := s.persist(next); err != nil {
		return "", err
	}
	return v.ID, nil
}

// UpdateVehicle replaces the vehicle under id and returns the previous
// value, or nil if none existed.
func (s *Store) UpdateVehicle(id string, v model.Vehicle) (*model.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	var previous *model.Vehicle
	if prev, ok := next.Vehicles[id]; ok {
		previous = &prev
	}
	v.ID = id
	next.Vehicles[id] = v

	if err := s.persist(next); err != nil {
		return nil, err
	}
	return previous, nil
}

// DeleteVehicle removes the vehicle. If it was dispatched, the owning active
// occurrence loses the id from its vehicle list and the whole assignment map
// entry; an already-orphaned reference is not an error.
func (s *Store) DeleteVehicle(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	removed, existed := next.Vehicles[id]
	delete(next.Vehicles, id)

	if existed && removed.State == model.VehicleDispatched {
		for aoID, ao := range next.ActiveOccurrences {
			if !slices.Contains(ao.VehicleIDs, id) {
				continue
			}
			ao.VehicleIDs = slices.DeleteFunc(ao.VehicleIDs, func(vehicleID string) bool {
				return vehicleID == id
			})
			delete(ao.VehicleAssignmentMap, id)
			next.ActiveOccurrences[aoID] = ao
			break
		}
	}

	return s.persist(next)
}

// SetStaffShift toggles every member between Available and Unavailable
// according to membership in availableIDs. Members that are Dispatched,
// Inactive or on SickLeave are never touched. The whole roster persists as
// one write.
func (s *Store) SetStaffShift(availableIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	for id, st := range next.Staff {
		if st.State != model.StaffAvailable && st.State != model.StaffUnavailable {
			continue
		}
		if slices.Contains(availableIDs, id) {
			st.State = model.StaffAvailable
		} else {
			st.State = model.StaffUnavailable
		}
		next.Staff[id] = st
	}

	return s.persist(next)
}
