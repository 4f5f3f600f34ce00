package domain

// Contact is one contact entry of a tenant. Each phone slot has its own
// WhatsApp opt-in flag.
type Contact struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone1    string `json:"phone1,omitempty"`
	Phone2    string `json:"phone2,omitempty"`
	WhatsApp1 bool   `json:"whatsapp1"`
	WhatsApp2 bool   `json:"whatsapp2"`
}

// TenantIdentity is the read model used to sign a tenant in.
type TenantIdentity struct {
	TenantID string    `json:"tenant_id"`
	RealmID  string    `json:"realm_id"`
	Name     string    `json:"name"`
	Enabled  bool      `json:"enabled"`
	Contacts []Contact `json:"contacts"`
}

// ContactPhoneField pairs a stored phone column with the flag that enables
// OTP delivery on it.
type ContactPhoneField struct {
	Name    string
	Phone   func(Contact) string
	Enabled func(Contact) bool
}

// ContactPhoneFields lists the phone slots of a contact in lookup order.
var ContactPhoneFields = []ContactPhoneField{
	{
		Name:    "phone1",
		Phone:   func(c Contact) string { return c.Phone1 },
		Enabled: func(c Contact) bool { return c.WhatsApp1 },
	},
	{
		Name:    "phone2",
		Phone:   func(c Contact) string { return c.Phone2 },
		Enabled: func(c Contact) bool { return c.WhatsApp2 },
	},
}

// PhoneMatch identifies the contact slot a phone was found in.
type PhoneMatch struct {
	Contact Contact
	Field   string
	Enabled bool
}

// MatchPhone returns every contact slot whose stored value satisfies same.
// same is given the raw stored value and decides equality with the phone
// being looked up.
func (t *TenantIdentity) MatchPhone(same func(stored string) bool) []PhoneMatch {
	var matches []PhoneMatch
	for _, c := range t.Contacts {
		for _, f := range ContactPhoneFields {
			v := f.Phone(c)
			if v == "" || !same(v) {
				continue
			}
			matches = append(matches, PhoneMatch{Contact: c, Field: f.Name, Enabled: f.Enabled(c)})
		}
	}
	return matches
}

// EligibleFor reports whether some contact holds the phone with its channel
// enabled. A disabled tenant is never eligible.
func (t *TenantIdentity) EligibleFor(same func(stored string) bool) (PhoneMatch, bool) {
	if !t.Enabled {
		return PhoneMatch{}, false
	}
	for _, m := range t.MatchPhone(same) {
		if m.Enabled {
			return m, true
		}
	}
	return PhoneMatch{}, false
}
