package domain

import "time"

// RelationType names the kind of link between two entities.
type RelationType string

// RelationRelates is an undirected "relates to" link stored from -> to.
const RelationRelates RelationType = "relates"

// Relation links two entities.
type Relation struct {
	ID        int64        `json:"id"`
	FromID    int64        `json:"from_id"`
	ToID      int64        `json:"to_id"`
	Type      RelationType `json:"relation_type"`
	CreatedAt time.Time    `json:"created_at"`
}
