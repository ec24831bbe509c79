package engine

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"cliftool/table"
)

// pgTypeName maps a logical column type to its PostgreSQL DDL type.
func pgTypeName(t table.Type) string {
	switch t {
	case table.Text:
		return "text"
	case table.Int:
		return "bigint"
	case table.Float:
		return "double precision"
	case table.Bool:
		return "boolean"
	case table.Timestamp:
		return "timestamptz"
	}
	return "text"
}

// typeFromOID maps a result-column OID back to a logical type. Unknown OIDs
// fall back to Text since every value has a text form.
func typeFromOID(oid uint32) table.Type {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		return table.Int
	case pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return table.Float
	case pgtype.BoolOID:
		return table.Bool
	case pgtype.TimestampOID, pgtype.TimestamptzOID, pgtype.DateOID:
		return table.Timestamp
	default:
		return table.Text
	}
}

// fromPG normalizes a pgx row value into the narrow set of Go types a Table
// carries.
func fromPG(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string, int64, float64, bool, time.Time:
		return val, nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case float32:
		return float64(val), nil
	case pgtype.Numeric:
		if !val.Valid {
			return nil, nil
		}
		f, err := val.Float64Value()
		if err != nil {
			return nil, fmt.Errorf("numeric to float: %w", err)
		}
		if !f.Valid {
			return nil, nil
		}
		return f.Float64, nil
	case []byte:
		return string(val), nil
	default:
		return fmt.Sprint(val), nil
	}
}
