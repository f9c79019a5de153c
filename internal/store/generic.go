package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"wahub/internal/utils/retry"
)

// Row is a generic table row keyed by column name.
type Row map[string]interface{}

// Get returns at most one row matching the key fields, or nil. The filter
// is key equality plus the implicit session scope plus, for soft-deletable
// tables, deleted=0.
func (s *Store) Get(ctx context.Context, table, sessionID string, keys Row, useCache bool) (Row, error) {
	return s.get(ctx, table, sessionID, keys, useCache, false)
}

// GetRaw is Get without the soft-delete filter, so callers can observe
// rows hidden by a soft delete. Never cached.
func (s *Store) GetRaw(ctx context.Context, table, sessionID string, keys Row) (Row, error) {
	return s.get(ctx, table, sessionID, keys, false, true)
}

func (s *Store) get(ctx context.Context, table, sessionID string, keys Row, useCache, includeDeleted bool) (Row, error) {
	info, ok := tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	// Reads inside a transaction see uncommitted rows; caching those would
	// survive a rollback.
	useCache = useCache && txFrom(ctx) == nil

	cacheKey := ""
	if useCache {
		cacheKey = exactCacheKey(info, sessionID, keys)
		if cached, ok := s.cache.Get(cacheKey); ok {
			if cached == nil {
				return nil, nil
			}
			return cached.(Row), nil
		}
	}

	where, args := s.buildFilter(info, sessionID, keys, includeDeleted)
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s LIMIT 1`, info.name, where)

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.countError(err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, s.countError(err)
	}

	var row Row
	if len(result) > 0 {
		row = result[0]
	}
	if useCache {
		s.cache.Set(cacheKey, row, 0)
	}
	return row, nil
}

// List returns all rows matching the session scope, the soft-delete filter,
// and an optional extra WHERE fragment. Cached with a short TTL.
func (s *Store) List(ctx context.Context, table, sessionID, extraWhere string, extraArgs []interface{}, useCache bool) ([]Row, error) {
	info, ok := tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	useCache = useCache && txFrom(ctx) == nil

	cacheKey := ""
	if useCache {
		cacheKey = listCacheKey(info, sessionID, extraWhere, extraArgs)
		if cached, ok := s.cache.Get(cacheKey); ok {
			return cached.([]Row), nil
		}
	}

	where, args := s.buildFilter(info, sessionID, nil, false)
	if extraWhere != "" {
		where += " AND (" + extraWhere + ")"
		args = append(args, extraArgs...)
	}
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s`, info.name, where)

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.countError(err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, s.countError(err)
	}
	if useCache {
		s.cache.Set(cacheKey, result, listCacheTTL)
	}
	return result, nil
}

// Upsert inserts a row or, on primary-key conflict, updates all non-key
// columns and refreshes updated_at. The session id is injected for scoped
// tables when absent. Purges the exact-key cache entry and all list cache
// entries for the table before returning.
func (s *Store) Upsert(ctx context.Context, table, sessionID string, data Row) error {
	info, ok := tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	row := make(Row, len(data)+3)
	for k, v := range data {
		row[k] = serializeValue(v)
	}
	if info.sessionScoped {
		if _, ok := row["session_id"]; !ok {
			row["session_id"] = sessionID
		}
	}
	for _, k := range info.fullKeys() {
		if v, ok := row[k]; !ok || v == nil {
			return fmt.Errorf("%w: %s.%s", ErrMissingKey, table, k)
		}
	}

	now := time.Now().Unix()
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = now
	}
	row["updated_at"] = now

	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	placeholders := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	updates := make([]string, 0, len(cols))
	for i, col := range cols {
		placeholders[i] = "?"
		args[i] = row[col]
		if !info.isKey(col) && col != "created_at" {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s`,
		info.name,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(info.fullKeys(), ", "),
		strings.Join(updates, ", "),
	)

	err := retry.Do(ctx, s.retryCfg, func() error {
		_, execErr := s.conn(ctx).ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return s.countError(fmt.Errorf("upsert %s: %w", table, err))
	}

	if st := txFrom(ctx); st != nil {
		st.addPurge(func() { s.purgeCache(info, sessionID, row) })
	} else {
		s.purgeCache(info, sessionID, row)
	}
	return nil
}

// BatchUpsert wraps N upserts in one transaction.
func (s *Store) BatchUpsert(ctx context.Context, table, sessionID string, rows []Row) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		for _, row := range rows {
			if err := s.Upsert(ctx, table, sessionID, row); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a row. Soft-deletable tables default to marking deleted=1
// with deleted_at; pass soft=false (or a hard-delete-only table) for a
// physical delete. Purges affected cache entries.
func (s *Store) Delete(ctx context.Context, table, sessionID string, keys Row, soft bool) error {
	info, ok := tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	row := make(Row, len(keys)+1)
	for k, v := range keys {
		row[k] = serializeValue(v)
	}
	if info.sessionScoped {
		if _, ok := row["session_id"]; !ok {
			row["session_id"] = sessionID
		}
	}
	for _, k := range info.fullKeys() {
		if v, ok := row[k]; !ok || v == nil {
			return fmt.Errorf("%w: %s.%s", ErrMissingKey, table, k)
		}
	}

	where, args := s.buildKeyFilter(info, row)

	var query string
	if soft && info.softDelete {
		now := time.Now().Unix()
		query = fmt.Sprintf(`UPDATE %s SET deleted = 1, deleted_at = %d, updated_at = %d WHERE %s`, info.name, now, now, where)
	} else {
		query = fmt.Sprintf(`DELETE FROM %s WHERE %s`, info.name, where)
	}

	err := retry.Do(ctx, s.retryCfg, func() error {
		_, execErr := s.conn(ctx).ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return s.countError(fmt.Errorf("delete %s: %w", table, err))
	}

	if st := txFrom(ctx); st != nil {
		st.addPurge(func() { s.purgeCache(info, sessionID, row) })
	} else {
		s.purgeCache(info, sessionID, row)
	}
	return nil
}

// Count returns the number of rows matching the default filters plus an
// optional extra WHERE fragment.
func (s *Store) Count(ctx context.Context, table, sessionID, extraWhere string, extraArgs ...interface{}) (int, error) {
	info, ok := tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	where, args := s.buildFilter(info, sessionID, nil, false)
	if extraWhere != "" {
		where += " AND (" + extraWhere + ")"
		args = append(args, extraArgs...)
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, info.name, where)

	var count int
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return 0, s.countError(err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, s.countError(err)
		}
	}
	return count, rows.Err()
}

// Exists reports whether a row with the given keys exists.
func (s *Store) Exists(ctx context.Context, table, sessionID string, keys Row) (bool, error) {
	row, err := s.Get(ctx, table, sessionID, keys, false)
	if err != nil {
		return false, err
	}
	return row != nil, nil
}

// BatchGet returns the rows for each key set, skipping misses.
func (s *Store) BatchGet(ctx context.Context, table, sessionID string, keySets []Row) ([]Row, error) {
	result := make([]Row, 0, len(keySets))
	for _, keys := range keySets {
		row, err := s.Get(ctx, table, sessionID, keys, true)
		if err != nil {
			return nil, err
		}
		if row != nil {
			result = append(result, row)
		}
	}
	return result, nil
}

// buildFilter composes the implicit filters: session scope and, unless
// includeDeleted, the soft-delete exclusion, plus optional key equality.
func (s *Store) buildFilter(info tableInfo, sessionID string, keys Row, includeDeleted bool) (string, []interface{}) {
	conds := make([]string, 0, len(keys)+2)
	args := make([]interface{}, 0, len(keys)+1)

	if info.sessionScoped {
		conds = append(conds, "session_id = ?")
		args = append(args, sessionID)
	}
	if info.softDelete && !includeDeleted {
		conds = append(conds, "deleted = 0")
	}
	if keys != nil {
		cols := make([]string, 0, len(keys))
		for k := range keys {
			if k == "session_id" {
				continue
			}
			cols = append(cols, k)
		}
		sort.Strings(cols)
		for _, k := range cols {
			conds = append(conds, k+" = ?")
			args = append(args, serializeValue(keys[k]))
		}
	}
	if len(conds) == 0 {
		conds = append(conds, "1 = 1")
	}
	return strings.Join(conds, " AND "), args
}

// buildKeyFilter composes an equality filter over the full key set only.
func (s *Store) buildKeyFilter(info tableInfo, row Row) (string, []interface{}) {
	keys := info.fullKeys()
	conds := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		conds[i] = k + " = ?"
		args[i] = row[k]
	}
	return strings.Join(conds, " AND "), args
}

// purgeCache drops the exact-key entry and every list entry for the table.
// Outside a transaction this runs before the write's caller observes
// success; writes inside one defer it to the commit.
func (s *Store) purgeCache(info tableInfo, sessionID string, row Row) {
	s.cache.Delete(exactCacheKey(info, sessionID, row))
	s.cache.DeletePrefix(info.name + ":list:")
}

func exactCacheKey(info tableInfo, sessionID string, keys Row) string {
	var b strings.Builder
	b.WriteString(info.name)
	b.WriteString(":get:")
	b.WriteString(sessionID)
	for _, k := range info.fullKeys() {
		if k == "session_id" {
			continue
		}
		fmt.Fprintf(&b, ":%s=%v", k, serializeValue(keys[k]))
	}
	return b.String()
}

func listCacheKey(info tableInfo, sessionID, extraWhere string, extraArgs []interface{}) string {
	return fmt.Sprintf("%s:list:%s:%s:%v", info.name, sessionID, extraWhere, extraArgs)
}

// serializeValue converts values to storable scalar forms: bools become
// ints, maps and slices become JSON text, times become unix seconds.
func serializeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case bool:
		return boolToInt(t)
	case time.Time:
		if t.IsZero() {
			return nil
		}
		return t.Unix()
	case map[string]string, map[string]interface{}, []string, []interface{}:
		return string(jsonMarshal(t))
	default:
		return v
	}
}

// scanRows reads all rows into generic maps.
func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []Row
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
