package announcer

import (
	"sort"
	"strconv"
	"strings"
)

// vehicleSet is one vehicle with its crew, ordered for announcement.
type vehicleSet struct {
	vehicleID string
	staffIDs  []string
}

// orderAssignments turns the assignment map into the deterministic
// announcement order.
//
// Crew within a vehicle sorts by the numeric value of the staff label
// (unparseable labels count as zero), ties broken by id. Vehicles with a
// known capacity come before vehicles without one; among known capacities
// the larger goes first; ties break on the whitespace-stripped uppercased
// vehicle label.
func (a *Assembler) orderAssignments(assignments map[string][]string) ([]vehicleSet, error) {
	sets := make([]vehicleSet, 0, len(assignments))
	for vehicleID, staffIDs := range assignments {
		ids := append([]string(nil), staffIDs...)
		sort.SliceStable(ids, func(i, j int) bool {
			iv := a.staffSortValue(ids[i])
			jv := a.staffSortValue(ids[j])
			if iv != jv {
				return iv < jv
			}
			return ids[i] < ids[j]
		})
		sets = append(sets, vehicleSet{vehicleID: vehicleID, staffIDs: ids})
	}

	sort.SliceStable(sets, func(i, j int) bool {
		iCap, _ := a.catalog.GetVehicleCapacity(sets[i].vehicleID)
		jCap, _ := a.catalog.GetVehicleCapacity(sets[j].vehicleID)

		if (iCap != nil) != (jCap != nil) {
			return iCap != nil
		}
		if iCap != nil && *iCap != *jCap {
			return *iCap > *jCap
		}
		return a.vehicleSortLabel(sets[i].vehicleID) < a.vehicleSortLabel(sets[j].vehicleID)
	})

	return sets, nil
}

func (a *Assembler) staffSortValue(staffID string) int {
	label, err := a.catalog.GetStaffLabel(staffID)
	if err != nil {
		return 0
	}
	value, err := strconv.Atoi(strings.TrimSpace(label))
	if err != nil {
		return 0
	}
	return value
}

func (a *Assembler) vehicleSortLabel(vehicleID string) string {
	label, err := a.catalog.GetVehicleLabel(vehicleID)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(label) {
		if r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
