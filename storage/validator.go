package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/jmoiron/sqlx"
)

func (s *storage) validate() error {
	if s.serviceName == "" {
		return errors.New("storage: serviceName must be set")
	}

	if strings.ContainsAny(s.serviceName, "%|") {
		return fmt.Errorf("storage: serviceName %q must not contain `%%` or `|`", s.serviceName)
	}

	return s.validatePrimaryQueries()
}

// validatePrimaryQueries makes sure every table's PrimaryQueryName is one of its own queries
func (s *storage) validatePrimaryQueries() error {
	for _, t := range s.structToTable {
		q, ok := s.queries[t.PrimaryQueryName]
		if !ok || s.queryToTable[q.Name] != t {
			return fmt.Errorf("storage: Table: %s Err: PrimaryQueryName %s is not one of its queries", t.tableName, t.PrimaryQueryName)
		}
	}
	return nil
}

// validateQueries asks the database to EXPLAIN every query so typos fail at start-up instead of on the first request
func (s *storage) validateQueries(ctx context.Context) error {
	for name, q := range s.queries {
		t := s.queryToTable[name]

		// zero value of the table's struct supplies the named parameters
		obj := reflect.New(reflect.TypeOf(t.Struct)).Interface()

		explainQuery := fmt.Sprintf("EXPLAIN %s", q.Query)

		rows, err := sqlx.NamedQueryContext(ctx, s.db.readConn(), explainQuery, obj)
		if err != nil {
			return fmt.Errorf("storage: error in query %s: %s. Query: %s", name, err.Error(), q.Query)
		}
		rows.Close()
	}

	return nil
}
