package store

import (
	"context"
)

// CreateLead validates in and inserts it in a single transaction. A failed insert is rolled back in full.
func (s *store) CreateLead(ctx context.Context, in NewLead) (*Lead, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	lead := &Lead{
		Name:  *in.Name,
		Email: *in.Email,
		Phone: *in.Phone,
	}

	err := s.store.Insert(ctx, lead)
	if err != nil {
		return nil, err
	}
	return lead, nil
}

// GetLeadByID returns storage.ErrNotFound (via errors.Is) when there is no such lead.
func (s *store) GetLeadByID(ctx context.Context, id int64) (*Lead, error) {
	l := &Lead{
		ID: id,
	}
	return l, s.store.Select(ctx, l, LeadGetByID)
}

func (s *store) ListLeads(ctx context.Context) ([]Lead, error) {
	leads := []Lead{}
	err := s.store.SelectAll(ctx, &Lead{}, &leads, LeadsGetAll)
	if err != nil {
		return nil, err
	}
	return leads, nil
}

func (s *store) ClearCache(ctx context.Context) error {
	return s.store.Clear(ctx)
}
