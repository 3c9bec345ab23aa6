package profile

import "time"

// Record is the storage representation of a profile: the snake_case column
// set of the profiles table, with contacts as an embedded ordered list.
type Record struct {
	ID          string    `json:"id"`
	FullName    string    `json:"full_name"`
	BirthDate   string    `json:"birth_date"`
	BloodType   string    `json:"blood_type"`
	Allergies   string    `json:"allergies"`
	Conditions  string    `json:"conditions"`
	Medications string    `json:"medications"`
	Notes       string    `json:"notes"`
	PhotoURL    string    `json:"photo_url"`
	Contacts    []Contact `json:"contacts"`
	LastUpdated time.Time `json:"last_updated"`
}

// ToStorage renames to the storage convention and stamps last_updated with
// now, discarding whatever the caller put there. Pure otherwise.
func ToStorage(p MedicalProfile, now time.Time) Record {
	return Record{
		ID:          p.ID,
		FullName:    p.FullName,
		BirthDate:   p.BirthDate,
		BloodType:   p.BloodType,
		Allergies:   p.Allergies,
		Conditions:  p.Conditions,
		Medications: p.Medications,
		Notes:       p.Notes,
		PhotoURL:    p.PhotoURL,
		Contacts:    p.Contacts,
		LastUpdated: now.UTC(),
	}
}

// FromStorage is the inverse renaming. A missing contacts list becomes an
// empty one; every other field passes through as stored.
func FromStorage(r Record) MedicalProfile {
	contacts := r.Contacts
	if contacts == nil {
		contacts = []Contact{}
	}
	return MedicalProfile{
		ID:          r.ID,
		FullName:    r.FullName,
		BirthDate:   r.BirthDate,
		BloodType:   r.BloodType,
		Allergies:   r.Allergies,
		Conditions:  r.Conditions,
		Medications: r.Medications,
		Notes:       r.Notes,
		PhotoURL:    r.PhotoURL,
		Contacts:    contacts,
		LastUpdated: r.LastUpdated,
	}
}
