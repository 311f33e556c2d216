package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

const (
	timestampStorageFormat = "2006-01-02 15:04:05.999999-07:00"

	// StampFormat is the human-readable timestamp format used in build
	// documents and notification payloads.
	StampFormat = "2006-01-02 15:04:05"
)

type Time struct {
	time.Time
}

func NewTime(t time.Time) Time {
	// Postgres only keeps microsecond precision, so round before storing to
	// ensure we read back the value we wrote.
	return Time{Time: t.UTC().Round(time.Microsecond)}
}

func NewTimePtr(t time.Time) *Time {
	newTime := NewTime(t)
	return &newTime
}

// Stamp renders the time in the short format used in build documents.
func (s Time) Stamp() string {
	return s.Time.Format(StampFormat)
}

// StampOrEmpty renders an optional time, or "" when unset.
func StampOrEmpty(t *Time) string {
	if t == nil {
		return ""
	}
	return t.Stamp()
}

func (s *Time) Scan(src interface{}) error {
	if src == nil {
		return nil
	}

	// Postgres hands us a time.Time, sqlite a string.
	switch t := src.(type) {
	case time.Time:
		*s = NewTime(t)
	case string:
		parsedTime, err := time.Parse(timestampStorageFormat, t)
		if err != nil {
			return errors.Wrap(err, "error parsing time")
		}
		*s = Time{Time: parsedTime.UTC()}
	default:
		return fmt.Errorf("unsupported type: %[1]T (%[1]v)", src)
	}

	return nil
}

// Value converts a time into a format that can be passed to the database,
// for example in a WHERE clause of a query.
func (s Time) Value() (driver.Value, error) {
	return s.Format(timestampStorageFormat), nil
}
