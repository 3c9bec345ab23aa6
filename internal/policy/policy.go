// Package policy holds the access rules for profile records.
//
// The identifier space is deliberately double-duty: a profile id is both the
// public lookup key responders scan and the private ownership key. Reads are
// open to anyone holding an id; writes require the authenticated principal's
// id to equal the record's id. The store checks these rules on every call, so
// a client that skips its own check still cannot write another principal's
// record.
package policy

type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// CanRead allows any request, authenticated or not, to read by id.
func CanRead(principalID, recordID string) bool {
	return recordID != ""
}

// CanWrite requires an authenticated principal whose id equals the record id.
func CanWrite(principalID, recordID string) bool {
	return principalID != "" && principalID == recordID
}

// Can dispatches by action.
func Can(action Action, principalID, recordID string) bool {
	switch action {
	case ActionRead:
		return CanRead(principalID, recordID)
	case ActionWrite:
		return CanWrite(principalID, recordID)
	default:
		return false
	}
}
