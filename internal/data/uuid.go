package data

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID wraps google/uuid.UUID for compact SQLite storage: it implements
// sql.Scanner and driver.Valuer so a 16-byte BLOB column round-trips
// transparently instead of paying for a 36-byte TEXT column.
type ID struct {
	uuid.UUID
}

// NewID generates a UUIDv7: time-ordered, so B-Tree inserts on the primary
// key stay append-mostly instead of scattering across the index.
func NewID() ID {
	return ID{UUID: uuid.Must(uuid.NewV7())}
}

// ParseID parses a canonical UUID string.
func ParseID(s string) (ID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ID{}, err
	}
	return ID{UUID: id}, nil
}

// Bytes returns the 16-byte binary form.
func (id ID) Bytes() []byte { return id.UUID[:] }

// IsZero reports whether id is the nil UUID.
func (id ID) IsZero() bool { return id.UUID == uuid.Nil }

// Value implements driver.Valuer, storing the UUID as a 16-byte BLOB.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	return id.Bytes(), nil
}

// Scan implements sql.Scanner, accepting either the 16-byte BLOB form or a
// 36-byte TEXT form (for rows written before a column was migrated to BLOB).
func (id *ID) Scan(src any) error {
	if src == nil {
		id.UUID = uuid.Nil
		return nil
	}

	switch v := src.(type) {
	case []byte:
		switch len(v) {
		case 16:
			parsed, err := uuid.FromBytes(v)
			if err != nil {
				return fmt.Errorf("invalid id bytes: %w", err)
			}
			id.UUID = parsed
			return nil
		case 36:
			parsed, err := uuid.Parse(string(v))
			if err != nil {
				return fmt.Errorf("invalid id text: %w", err)
			}
			id.UUID = parsed
			return nil
		default:
			return fmt.Errorf("invalid id byte length: %d (want 16 or 36)", len(v))
		}
	case string:
		parsed, err := uuid.Parse(v)
		if err != nil {
			return fmt.Errorf("invalid id text: %w", err)
		}
		id.UUID = parsed
		return nil
	default:
		return fmt.Errorf("unsupported id source type: %T", src)
	}
}
