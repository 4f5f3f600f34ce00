package domain

// PhoneNumber is a raw phone input together with the region it was parsed
// against and its canonical E.164 form.
type PhoneNumber struct {
	Raw    string `json:"raw"`
	Region string `json:"region"`
	E164   string `json:"e164"`
}
