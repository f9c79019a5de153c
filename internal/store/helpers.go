package store

import (
	"database/sql"
	"encoding/json"
)

// Helper functions for null-safe SQL operations

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(i int64) sql.NullInt64 {
	if i == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: i, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}

func jsonMarshal(v interface{}) []byte {
	if v == nil {
		return nil
	}
	b, _ := json.Marshal(v)
	return b
}

func jsonUnmarshalMap(data []byte) map[string]string {
	var result map[string]string
	if len(data) > 0 {
		json.Unmarshal(data, &result)
	}
	return result
}

// Row accessors. Generic reads produce map[string]interface{} rows whose
// value types depend on the driver; these normalize the common cases.

func rowString(r Row, col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

func rowInt64(r Row, col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func rowInt(r Row, col string) int {
	return int(rowInt64(r, col))
}

func rowBool(r Row, col string) bool {
	return rowInt64(r, col) != 0
}
