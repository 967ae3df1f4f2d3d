package storage

import (
	"errors"
	"fmt"
	"strings"
)

func (q *Query) validate(t *Table) error {
	err := q.validateName()
	if err != nil {
		return err
	}

	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("storage: query %s: Query must be set", q.Name)
	}

	q.parseActions()

	err = q.validateActions()
	if err != nil {
		return err
	}

	err = q.validateAndParseCacheFields()
	if err != nil {
		return err
	}

	for _, field := range q.cacheKeyFields {
		if !t.columns[field] {
			return fmt.Errorf("storage: query %s: CacheKey field %s is not a column of %s", q.Name, field, t.structName)
		}
	}

	q.tableName = t.tableName
	return nil
}

func (q *Query) validateName() error {
	if q.Name == "" {
		return errors.New("storage: query name is required")
	}
	return nil
}

// parseActions treats an unset action as CacheNoAction
func (q *Query) parseActions() {
	if q.InsertAction == CacheDefault {
		q.InsertAction = CacheNoAction
	}
	if q.SelectAction == CacheDefault {
		q.SelectAction = CacheNoAction
	}
}

func (q *Query) validateActions() error {
	switch q.InsertAction {
	case CacheNoAction, CacheSet, CacheDel:
	default:
		return fmt.Errorf("storage: query %s: unknown InsertAction %d", q.Name, q.InsertAction)
	}

	switch q.SelectAction {
	case CacheNoAction, CacheSet:
	default:
		return fmt.Errorf("storage: query %s: SelectAction must be CacheNoAction or CacheSet", q.Name)
	}

	if q.hasCacheAction() && q.CacheKey == "" {
		return fmt.Errorf("storage: query %s: CacheKey is required when a cache action is set", q.Name)
	}
	return nil
}

// validateAndParseCacheFields takes in a generic key e.g. `user_id=%v|status=%v` and places user_id & status into the cacheKeyFields
func (q *Query) validateAndParseCacheFields() error {
	q.cacheKeyFields = []string{}

	if strings.HasPrefix(q.CacheKey, "service:") {
		return fmt.Errorf("storage: query %s: CacheKey must not start with `service:`; it is added for you", q.Name)
	}

	for _, key := range strings.Split(q.CacheKey, "|") {
		if !strings.Contains(key, "%") {
			// segment doesn't have a placeholder value; continue
			continue
		}

		parts := strings.Split(key, "=")
		if len(parts) != 2 || parts[1] != "%v" || parts[0] == "" {
			return fmt.Errorf("storage: query %s: invalid CacheKey segment %q; must be in the format `field=%%v`", q.Name, key)
		}

		q.cacheKeyFields = append(q.cacheKeyFields, parts[0])
	}

	return nil
}

func (q *Query) parseTTL(defaultTTL int) {
	if q.CacheTTL == 0 {
		q.CacheTTL = defaultTTL
	}
}

func (q *Query) parseFullCacheKey(service string, tableName string) {
	// built once so every key lookup is a single Sprintf
	q.fullCacheKey = fmt.Sprintf("service:%s|%s|%s", service, tableName, q.CacheKey)
}
