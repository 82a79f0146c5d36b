// package models defines the data model for the work item migration engine
package models

import "time"

// Persisted is implemented by rows of the run ledger: they carry their own string id and
// timestamps and validate themselves before every write.
type Persisted interface {
	ID() string
	CreatedAt() time.Time
	UpdatedAt() time.Time
	Validate() error
}

// Repository is the CRUD surface of a ledger table keyed by string ids. List criteria are
// column filters plus an optional "limit"; empty values are ignored.
type Repository[T Persisted] interface {
	Create(model T) error
	Get(id string) (T, error)
	Update(model T) error
	Delete(id string) error
	List(criteria map[string]any) ([]T, error)
}

var _ Persisted = (*Run)(nil)
