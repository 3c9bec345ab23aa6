package profile

import (
	"reflect"
	"testing"
	"time"
)

func TestRoundTripPreservesEverythingButLastUpdated(t *testing.T) {
	stored := Record{
		ID:          "user-1",
		FullName:    "Ana García",
		BirthDate:   "1948-03-12",
		BloodType:   "O-",
		Allergies:   "penicillin",
		Conditions:  "type 2 diabetes",
		Medications: "metformin 850mg",
		Notes:       "pacemaker fitted 2019",
		PhotoURL:    "https://photos.example/u1.jpg",
		Contacts: []Contact{
			{ID: "c1", Name: "Luis García", Relation: "son", Phone: "+34 600 000 001"},
			{ID: "c2", Name: "Marta Ruiz", Relation: "neighbour", Phone: "+34 600 000 002"},
		},
		LastUpdated: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}

	now := time.Date(2025, 7, 1, 12, 30, 0, 0, time.UTC)
	again := ToStorage(FromStorage(stored), now)

	if again.LastUpdated != now {
		t.Fatalf("LastUpdated = %v, want refreshed to %v", again.LastUpdated, now)
	}
	if !again.LastUpdated.After(stored.LastUpdated) {
		t.Fatalf("LastUpdated did not advance: %v -> %v", stored.LastUpdated, again.LastUpdated)
	}

	again.LastUpdated = stored.LastUpdated
	if !reflect.DeepEqual(again, stored) {
		t.Fatalf("round trip changed record:\n got %+v\nwant %+v", again, stored)
	}
}

func TestToStorageDiscardsCallerLastUpdated(t *testing.T) {
	p := MedicalProfile{ID: "user-1", LastUpdated: time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)}
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	if got := ToStorage(p, now).LastUpdated; got != now {
		t.Fatalf("LastUpdated = %v, want %v", got, now)
	}
}

func TestFromStorageDefaultsMissingContacts(t *testing.T) {
	p := FromStorage(Record{ID: "user-1"})
	if p.Contacts == nil {
		t.Fatal("missing contacts should map to an empty list, got nil")
	}
	if len(p.Contacts) != 0 {
		t.Fatalf("expected no contacts, got %d", len(p.Contacts))
	}
	// Absent scalar fields pass through untouched, UNKNOWN is not injected.
	if p.BloodType != "" {
		t.Fatalf("absent blood type should stay absent, got %q", p.BloodType)
	}
}

func TestFromStorageKeepsContactOrder(t *testing.T) {
	r := Record{
		ID: "user-1",
		Contacts: []Contact{
			{ID: "first", Name: "A"},
			{ID: "second", Name: "B"},
			{ID: "third", Name: "C"},
		},
	}
	p := FromStorage(r)
	for i, want := range []string{"first", "second", "third"} {
		if p.Contacts[i].ID != want {
			t.Fatalf("contact %d = %q, want %q (order is dial priority)", i, p.Contacts[i].ID, want)
		}
	}
}

func TestInitialProfile(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	p := Initial("user-1", "Ana", now)
	if p.ID != "user-1" {
		t.Fatalf("ID = %q", p.ID)
	}
	if p.BloodType != string(BloodUnknown) {
		t.Fatalf("BloodType = %q, want UNKNOWN sentinel", p.BloodType)
	}
	if p.Contacts == nil || len(p.Contacts) != 0 {
		t.Fatalf("Contacts = %#v, want empty list", p.Contacts)
	}
	if p.Allergies != "" || p.Conditions != "" || p.Medications != "" || p.Notes != "" {
		t.Fatal("initial profile should disclose nothing")
	}
}

func TestBloodTypeValid(t *testing.T) {
	for _, valid := range []BloodType{BloodAPos, BloodANeg, BloodBPos, BloodBNeg, BloodABPos, BloodABNeg, BloodOPos, BloodONeg, BloodUnknown} {
		if !valid.Valid() {
			t.Errorf("BloodType(%q).Valid() = false", valid)
		}
	}
	for _, invalid := range []BloodType{"", "C+", "unknown", "o+"} {
		if invalid.Valid() {
			t.Errorf("BloodType(%q).Valid() = true", invalid)
		}
	}
}

func TestValidBirthDate(t *testing.T) {
	cases := map[string]bool{
		"":           true,
		"1948-03-12": true,
		"1948-13-12": false,
		"12/03/1948": false,
		"not a date": false,
	}
	for input, want := range cases {
		if got := ValidBirthDate(input); got != want {
			t.Errorf("ValidBirthDate(%q) = %v, want %v", input, got, want)
		}
	}
}
