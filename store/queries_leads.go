package store

import storage "github.com/osr-alliance/backend-lead-intake/storage"

func leadGetByID() *storage.Query {
	return &storage.Query{
		Name:     LeadGetByID,
		CacheKey: "id=%v",

		Query: "SELECT id, name, email, phone FROM lead WHERE id = :id",

		InsertAction: storage.CacheSet,
		SelectAction: storage.CacheSet,
	}
}

func leadsGetAll() *storage.Query {
	return &storage.Query{
		Name:     LeadsGetAll,
		CacheKey: "all",

		Query: "SELECT id, name, email, phone FROM lead ORDER BY id",

		CacheTTL: ListTTL,

		InsertAction: storage.CacheDel, // the list is stale as soon as a lead is added
		SelectAction: storage.CacheSet,
	}
}

const leadInsert = `INSERT INTO lead (name, email, phone)
VALUES
(:name, :email, :phone) RETURNING *` // note: make sure it's RETURNING *
