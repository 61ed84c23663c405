// internal/record/record.go
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"
)

// ErrInvalidRecord is returned for records that cannot be stored,
// e.g. a record carrying the nil UUID.
var ErrInvalidRecord = errors.New("invalid record")

// Record is an immutable value identified by a stable ID.
// Changing a record means building a new one that shares the ID;
// the old value stays intact so history steps can keep referencing it.
type Record struct {
	id     uuid.UUID
	fields map[string]string
}

// New creates a record with a fresh random ID.
func New(fields map[string]string) Record {
	return FromParts(uuid.New(), fields)
}

// FromParts rebuilds a record with a known ID, e.g. one read back from
// a database or decoded from a replication request.
func FromParts(id uuid.UUID, fields map[string]string) Record {
	return Record{id: id, fields: maps.Clone(fields)}
}

// ID returns the record's identity.
func (r Record) ID() uuid.UUID { return r.id }

// Field returns a single payload field.
func (r Record) Field(key string) (string, bool) {
	v, ok := r.fields[key]
	return v, ok
}

// Fields returns a copy of the payload.
func (r Record) Fields() map[string]string {
	out := make(map[string]string, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// With returns a new record with the same ID and key set to value.
func (r Record) With(key, value string) Record {
	next := r.Fields()
	next[key] = value
	return Record{id: r.id, fields: next}
}

// Without returns a new record with the same ID and key removed.
func (r Record) Without(key string) Record {
	next := r.Fields()
	delete(next, key)
	return Record{id: r.id, fields: next}
}

// SamePayload reports whether both records carry identical fields.
// IDs are not compared.
func (r Record) SamePayload(other Record) bool {
	return maps.Equal(r.fields, other.fields)
}

// Validate checks that the record can enter a store.
func (r Record) Validate() error {
	if r.id == uuid.Nil {
		return fmt.Errorf("%w: nil id", ErrInvalidRecord)
	}
	return nil
}

func (r Record) String() string {
	return fmt.Sprintf("Record(%s %v)", r.id, r.fields)
}

// wire is the JSON form of a Record.
type wire struct {
	ID     uuid.UUID         `json:"id"`
	Fields map[string]string `json:"fields"`
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	fields := r.fields
	if fields == nil {
		fields = map[string]string{}
	}
	return json.Marshal(wire{ID: r.id, Fields: fields})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = FromParts(w.ID, w.Fields)
	return nil
}
