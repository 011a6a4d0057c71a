//go:build go1.18

package domain

import (
	"testing"
)

// FuzzParseSubjectID tests that parsing never panics on arbitrary input
// and that every accepted value round-trips through String.
//
// Justification: subject IDs arrive from external callers; the parse
// function must handle arbitrary input safely.
func FuzzParseSubjectID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE consent_ledger;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("550e8400-e29b-41d4-a716-446655440000\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseSubjectID(input)
		if err != nil {
			return
		}
		roundTrip, err2 := ParseSubjectID(id.String())
		if err2 != nil {
			t.Errorf("accepted ID failed round-trip: %v", err2)
		}
		if roundTrip != id {
			t.Error("round-trip changed ID value")
		}
	})
}

// FuzzParseAllIDs ensures every ID type applies the same validation.
//
// Justification: inconsistent validation across ID types would let a
// value rejected as one kind slip through as another.
func FuzzParseAllIDs(f *testing.F) {
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("")
	f.Add("invalid")

	f.Fuzz(func(t *testing.T, input string) {
		_, errSubject := ParseSubjectID(input)
		_, errPolicy := ParsePolicyID(input)
		_, errExemption := ParseExemptionID(input)
		_, errRequest := ParseRequestID(input)

		if errSubject == nil {
			if errPolicy != nil || errExemption != nil || errRequest != nil {
				t.Error("inconsistent acceptance across ID types")
			}
		} else {
			if errPolicy == nil || errExemption == nil || errRequest == nil {
				t.Error("inconsistent rejection across ID types")
			}
		}
	})
}
