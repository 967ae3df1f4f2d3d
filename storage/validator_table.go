package storage

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/jmoiron/sqlx/reflectx"
)

func (t *Table) validate(mapper *reflectx.Mapper) error {
	if t.Struct == nil {
		return fmt.Errorf("storage: Struct must be set")
	}

	typ := reflect.TypeOf(t.Struct)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
		t.Struct = reflect.New(typ).Elem().Interface()
	}
	if typ.Kind() != reflect.Struct {
		return fmt.Errorf("storage: Struct must be a struct; is %s", typ.Kind())
	}

	t.parseTableName()
	t.parseColumns(mapper, typ)

	// you can have no primary key only if you have no insert query
	if t.PrimaryKeyField == "" && t.InsertQuery != "" {
		return fmt.Errorf("storage: Table: %s Err: PrimaryKeyField must be set", t.tableName)
	}

	if t.PrimaryKeyField != "" && !t.columns[t.PrimaryKeyField] {
		return fmt.Errorf("storage: Table: %s Err: PrimaryKeyField %s is not a column of %s", t.tableName, t.PrimaryKeyField, t.structName)
	}

	if t.PrimaryQueryName == "" {
		return fmt.Errorf("storage: Table: %s Err: PrimaryQueryName must be set", t.tableName)
	}

	if len(t.Queries) == 0 {
		return fmt.Errorf("storage: Table: %s Err: Queries must be set", t.tableName)
	}

	return t.validateInsertQuery()
}

func (t *Table) validateInsertQuery() error {
	// an insert query isn't required e.g. a read-only view has none
	if t.InsertQuery == "" {
		return nil
	}

	if !strings.HasSuffix(strings.ToLower(strings.TrimSpace(t.InsertQuery)), "returning *") {
		return errors.New("storage: Table: " + t.tableName + " Err: InsertQuery must end with `returning *`")
	}
	return nil
}

func (t *Table) parseTableName() {
	t.structName = getStructName(t.Struct)

	t.tableName = t.Name
	if t.tableName == "" {
		t.tableName = strings.ToLower(t.structName)
	}
}

// parseColumns records the column names of the struct as seen through the json tag mapper
func (t *Table) parseColumns(mapper *reflectx.Mapper, typ reflect.Type) {
	t.columns = map[string]bool{}
	for name := range mapper.TypeMap(typ).Names {
		t.columns[name] = true
	}
}
