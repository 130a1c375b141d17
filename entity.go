package payrelay

import "github.com/xraph/payrelay/internal/entity"

// Entity is the timestamp pair embedded by every payrelay record.
type Entity = entity.Entity

// NewEntity returns an Entity stamped with the current UTC time.
func NewEntity() Entity {
	return entity.New()
}
