package store

import storage "github.com/osr-alliance/backend-lead-intake/storage"

// define all the query names we will use
const (
	/*
		It's standard to have the query used to fetch by
		the primary key be called {tableName}GetByID
	*/
	LeadGetByID  = "LeadGetByID"
	LeadsGetAll  = "LeadsGetAll"
	leadTableKey = "lead"
)

const (
	DefaultTTL = (3600 * 24 * 7) // 7 days
	ListTTL    = 60              // retired list generations are never read again; let them expire quickly
)

func newLeadTable() *storage.Table {
	return &storage.Table{
		Struct:           Lead{},
		Name:             leadTableKey,
		PrimaryQueryName: LeadGetByID,
		PrimaryKeyField:  "id",
		InsertQuery:      leadInsert,
		Queries: []*storage.Query{
			leadGetByID(),
			leadsGetAll(),
		},
	}
}
