package store

// Lead is a captured contact-form submission; a row of the lead table.
type Lead struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// NewLead is the create payload as it arrives. A nil field was absent (or null) in the request.
type NewLead struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Phone *string `json:"phone"`
}
