package models

import "github.com/uptrace/bun"

// QueueCategory is a namespace partitioning tickets and events, one per
// clinic service (e.g. the prenatal arrivals queue).
type QueueCategory struct {
	bun.BaseModel `bun:"table:queue_categories"`

	Name        string `bun:"name,pk"`
	DisplayName string `bun:"display_name"`
	Active      bool   `bun:"active,notnull"`
}

// CategorySet is the immutable category lookup resolved once at startup and
// passed into the coordinator and replenisher.
type CategorySet struct {
	names map[string]QueueCategory
}

func NewCategorySet(categories []QueueCategory) *CategorySet {
	names := make(map[string]QueueCategory, len(categories))
	for _, c := range categories {
		if c.Active {
			names[c.Name] = c
		}
	}
	return &CategorySet{names: names}
}

func (s *CategorySet) Contains(name string) bool {
	_, ok := s.names[name]
	return ok
}

func (s *CategorySet) Names() []string {
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	return out
}
