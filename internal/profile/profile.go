// Package profile holds the medical-emergency profile model and its mapping
// to the storage representation.
package profile

import "time"

// BloodType uses UNKNOWN as the sentinel for "not recorded".
type BloodType string

const (
	BloodAPos    BloodType = "A+"
	BloodANeg    BloodType = "A-"
	BloodBPos    BloodType = "B+"
	BloodBNeg    BloodType = "B-"
	BloodABPos   BloodType = "AB+"
	BloodABNeg   BloodType = "AB-"
	BloodOPos    BloodType = "O+"
	BloodONeg    BloodType = "O-"
	BloodUnknown BloodType = "UNKNOWN"
)

var bloodTypes = map[BloodType]bool{
	BloodAPos: true, BloodANeg: true,
	BloodBPos: true, BloodBNeg: true,
	BloodABPos: true, BloodABNeg: true,
	BloodOPos: true, BloodONeg: true,
	BloodUnknown: true,
}

// Valid reports whether b is a known blood type. The empty string is not a
// blood type; a stored empty value surfaces as-is and is never coerced here.
func (b BloodType) Valid() bool {
	return bloodTypes[b]
}

// Contact is an emergency contact. IDs are client-generated and unique only
// within one profile. Slice order is dial-priority order.
type Contact struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Relation string `json:"relation"`
	Phone    string `json:"phone"`
}

// MedicalProfile is the internal model. ID always equals the owning
// principal's id; that equality is what the write policy checks.
//
// Empty allergies/conditions/medications mean "not disclosed". The original
// system never distinguished that from "explicitly none" and neither does
// this one.
type MedicalProfile struct {
	ID          string    `json:"id"`
	FullName    string    `json:"fullName"`
	BirthDate   string    `json:"birthDate"` // YYYY-MM-DD or empty
	BloodType   string    `json:"bloodType"`
	Allergies   string    `json:"allergies"`
	Conditions  string    `json:"conditions"`
	Medications string    `json:"medications"`
	Notes       string    `json:"notes"`
	PhotoURL    string    `json:"photoUrl,omitempty"`
	Contacts    []Contact `json:"contacts"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Initial builds the profile created at registration: UNKNOWN blood type,
// no contacts, nothing disclosed yet.
func Initial(principalID, fullName string, now time.Time) MedicalProfile {
	return MedicalProfile{
		ID:          principalID,
		FullName:    fullName,
		BloodType:   string(BloodUnknown),
		Contacts:    []Contact{},
		LastUpdated: now.UTC(),
	}
}

// ValidBirthDate reports whether the birth date is empty or a calendar date.
func ValidBirthDate(value string) bool {
	if value == "" {
		return true
	}
	_, err := time.Parse("2006-01-02", value)
	return err == nil
}
