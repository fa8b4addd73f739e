// Package patient holds the denormalized patient profile consumed by the
// consultation workspace, together with the formatting policies (address,
// age) applied when a profile is merged into a consultation.
package patient

import (
	"encoding/json"
	"strings"
	"time"
)

// Profile is the patient record returned by the clinic backend.
type Profile struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Gender      string  `json:"gender,omitempty"`
	DateOfBirth string  `json:"date_of_birth,omitempty"`
	Age         *int    `json:"age,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	Email       string  `json:"email,omitempty"`
	Image       string  `json:"image,omitempty"`
	Address     Address `json:"address,omitempty"`
}

// History is the appointment/visit history bundle for a patient. The
// workspace only needs it as an existence probe: a NotFound from the
// backend means the patient no longer resolves.
type History struct {
	PatientID    string          `json:"patient_id"`
	Appointments json.RawMessage `json:"appointments,omitempty"`
	Visits       json.RawMessage `json:"visits,omitempty"`
}

// Ref is a patient reference as it appears in backend payloads, which
// inconsistently encode it as either a bare string id or an embedded
// object {"_id": "..."}.
type Ref struct {
	ID string
}

// UnmarshalJSON accepts both the string and the object encoding.
func (r *Ref) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.ID = s
		return nil
	}
	var obj struct {
		UnderscoreID string `json:"_id"`
		ID           string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.UnderscoreID != "" {
		r.ID = obj.UnderscoreID
	} else {
		r.ID = obj.ID
	}
	return nil
}

// MarshalJSON always emits the string form.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ID)
}

// Address is a postal address that the backend returns either as a plain
// string or as a structured object with optional parts.
type Address struct {
	Raw        string `json:"-"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// UnmarshalJSON accepts both the string and the object encoding. The
// object form may use either "postalCode" or "pincode" for the postal code.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.Raw = s
		return nil
	}
	type alias Address
	var obj struct {
		alias
		Pincode string `json:"pincode"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*a = Address(obj.alias)
	if a.PostalCode == "" {
		a.PostalCode = obj.Pincode
	}
	return nil
}

// MarshalJSON round-trips the form the address arrived in.
func (a Address) MarshalJSON() ([]byte, error) {
	if a.Raw != "" {
		return json.Marshal(a.Raw)
	}
	type alias Address
	return json.Marshal(alias(a))
}

// IsZero reports whether no part of the address is populated.
func (a Address) IsZero() bool {
	return a.Raw == "" && a.Line1 == "" && a.Line2 == "" && a.City == "" &&
		a.State == "" && a.PostalCode == "" && a.Country == ""
}

// Format produces the single display string for an address: the non-empty
// parts joined by ", " in line1, line2, city, state, postalCode, country
// order. A string-form address is returned as-is. When nothing is present
// the literal placeholder "Not provided" is returned.
func (a Address) Format() string {
	if strings.TrimSpace(a.Raw) != "" {
		return a.Raw
	}
	parts := make([]string, 0, 6)
	for _, p := range []string{a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "Not provided"
	}
	return strings.Join(parts, ", ")
}

// AgeAt computes a patient's age in whole years at the given instant:
// current year minus birth year, decremented by one when the birth
// month/day has not yet occurred this year.
func AgeAt(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}

// dobLayouts are the birth date encodings seen in backend payloads.
var dobLayouts = []string{time.RFC3339, "2006-01-02"}

// AgeFromDOB parses a birth date string and computes the age at now.
// Invalid or missing dates yield nil so callers can fall back to a
// pre-existing age field.
func AgeFromDOB(dob string, now time.Time) *int {
	if strings.TrimSpace(dob) == "" {
		return nil
	}
	for _, layout := range dobLayouts {
		if t, err := time.Parse(layout, dob); err == nil {
			age := AgeAt(t, now)
			return &age
		}
	}
	return nil
}
