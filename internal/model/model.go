// Package model defines the core entity types managed by firecentral.
//
// The JSON field names match the on-disk snapshot format and the payloads
// exchanged with the UI shell, so the same structs serve both persistence
// and the HTTP surface.
package model

// StaffState describes the availability of a staff member.
type StaffState string

const (
	// StaffAvailable means the member is on shift and can be dispatched.
	StaffAvailable StaffState = "available"

	// StaffUnavailable means the member is off shift.
	StaffUnavailable StaffState = "unavailable"

	// StaffDispatched means the member is committed to an active occurrence.
	// This state is set exclusively by assignment logic, never by shift changes.
	StaffDispatched StaffState = "dispatched"

	// StaffInactive means the member is administratively inactive.
	StaffInactive StaffState = "inactive"

	// StaffSickLeave means the member is on sick leave.
	StaffSickLeave StaffState = "sickLeave"
)

// VehicleState describes the availability of a vehicle.
type VehicleState string

const (
	VehicleAvailable   VehicleState = "available"
	VehicleUnavailable VehicleState = "unavailable"

	// VehicleDispatched means the vehicle is committed to an active occurrence.
	VehicleDispatched VehicleState = "dispatched"
)

// Occurrence is a reusable category of field event (e.g. "structure fire").
type Occurrence struct {
	// ID is the server-generated unique identifier.
	ID string `json:"internalId"`

	// Label is the spoken/displayed name of the occurrence type.
	Label string `json:"label"`

	// Image names the icon shown by the UI shell.
	Image string `json:"image"`
}

// Staff is one member of the station's personnel.
type Staff struct {
	ID string `json:"internalId"`

	// Label is the member's numeric call label (e.g. "07"). Announcements
	// speak it with leading zeros stripped and sort by its numeric value.
	Label string `json:"label"`

	Name       string     `json:"name"`
	Rank       string     `json:"rank"`
	Permission string     `json:"permission"`
	State      StaffState `json:"state"`
}

// Vehicle is one vehicle of the station's fleet.
type Vehicle struct {
	ID string `json:"internalId"`

	// Label is the vehicle's call sign (e.g. "VFCI 01"). Announcements spell
	// it out with whitespace removed.
	Label string `json:"label"`

	// Capacity is the crew capacity. Nil when unknown; vehicles with a known
	// capacity sort ahead of those without in announcements.
	Capacity *int `json:"capacity,omitempty"`

	Category     string       `json:"category"`
	LicensePlate *string      `json:"licensePlate,omitempty"`
	State        VehicleState `json:"state"`
}

// ActiveOccurrence is one in-progress dispatch: a concrete instance of an
// Occurrence with the staff and vehicles committed to it.
//
// Invariant: any staff or vehicle id appears in at most one ActiveOccurrence
// across the whole store at any time. VehicleAssignmentMap partitions
// StaffIDs among VehicleIDs; its keys must be a subset of VehicleIDs.
type ActiveOccurrence struct {
	ID string `json:"internalId"`

	// OccurrenceID references the Occurrence category. The reference may
	// dangle if the occurrence was deleted afterwards.
	OccurrenceID string `json:"occurrenceId"`

	// CreationTime is set server-side at creation, unix milliseconds.
	CreationTime int64 `json:"creationTime"`

	StaffIDs   []string `json:"staffIds"`
	VehicleIDs []string `json:"vehicleIds"`

	// VehicleAssignmentMap maps a vehicle id to the ordered staff ids riding it.
	VehicleAssignmentMap map[string][]string `json:"vehicleAssignmentMap"`

	Address        string `json:"address"`
	Description    string `json:"description"`
	Location       string `json:"location"`
	ReferencePoint string `json:"referencePoint"`
	CoduNumber     string `json:"coduNumber"`
	VmerSiv        string `json:"vmerSiv"`
}

// DataStore is the aggregate root: the four entity collections keyed by id.
// It is loaded once at startup and every mutation is persisted before the
// command returns success.
type DataStore struct {
	ActiveOccurrences map[string]ActiveOccurrence `json:"activeOccurrences"`
	Occurrences       map[string]Occurrence       `json:"occurrences"`
	Staff             map[string]Staff            `json:"staff"`
	Vehicles          map[string]Vehicle          `json:"vehicles"`
}

// NewDataStore returns an empty DataStore with all collections allocated.
func NewDataStore() DataStore {
	return DataStore{
		ActiveOccurrences: map[string]ActiveOccurrence{},
		Occurrences:       map[string]Occurrence{},
		Staff:             map[string]Staff{},
		Vehicles:          map[string]Vehicle{},
	}
}
