package storage

import (
	"context"
	"errors"
	"fmt"
)

// actionNonSelect takes an action on a specific row that has been inserted or deleted. For every query on the row's table
// CacheSet stores the row under the query's key (e.g. a lead by id) and CacheDel retires the key (e.g. the now stale
// list of all leads) by bumping its generation.
//
// This is very different than cacheActionSelect which stores what a query returned.
func (s *storage) actionNonSelect(ctx context.Context, obj interface{}, action actionTypes) error {
	if action == actionSelect {
		return errors.New("storage: cannot do actionSelect in actionNonSelect")
	}

	if s.cache == nil {
		return nil
	}

	table, err := s.tableFor(obj)
	if err != nil {
		return err
	}

	var errs []error
	for _, q := range table.Queries {
		if !q.hasCacheAction() {
			continue
		}

		var actionToTake CacheAction
		switch action {
		case actionInsert:
			actionToTake = q.InsertAction
		case actionDelete:
			actionToTake = CacheDel
		}

		if actionToTake == CacheNoAction {
			continue
		}

		keyName, err := q.getKeyName(s, obj)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		switch actionToTake {
		case CacheSet:
			err = s.cache.set(ctx, keyName, obj, q.CacheTTL)
		case CacheDel:
			if q.generational() {
				err = s.cache.bump(ctx, keyName)
			} else {
				err = s.cache.Del(ctx, keyName).Err()
			}
		default:
			err = fmt.Errorf("storage: unknown cache action %d for %s", actionToTake, q.Name)
		}

		s.d("cache action %d on %s", actionToTake, keyName)

		if err != nil {
			// do not return; we want to update all the queries
			errs = append(errs, fmt.Errorf("%s: %w", keyName, err))
		}
	}

	return errors.Join(errs...)
}

// cacheActionSelect stores what a query read from the db. Failures are logged; the caller already has its data.
func (s *storage) cacheActionSelect(ctx context.Context, q *Query, keyName string, value interface{}) {
	if s.cache == nil || q.SelectAction != CacheSet {
		return
	}

	err := s.cache.set(ctx, keyName, value, q.CacheTTL)
	if err != nil {
		s.log.WithError(err).WithField("key", keyName).Warn("storage: cache set failed")
	}
}
