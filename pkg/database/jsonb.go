package database

import (
	"database/sql/driver"
	"fmt"
)

// JSONB adapts a raw JSON payload to the database/sql Scanner/Valuer
// interfaces so it can be read from and written to a jsonb column without an
// intermediate struct. Callers json.Unmarshal the bytes into whatever shape
// the column holds (accrual policy tiers, workflow node graphs, instance
// context).
type JSONB []byte

// Value implements driver.Valuer. lib/pq sends parameters over the wire as
// text, so returning a string (rather than a []byte, which postgres would
// otherwise treat as bytea) lets the column's own ::jsonb cast apply.
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "{}", nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = append((*j)[:0], v...)
		return nil
	case string:
		*j = JSONB(v)
		return nil
	default:
		return fmt.Errorf("database: cannot scan %T into JSONB", value)
	}
}
