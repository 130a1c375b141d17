// Package entity holds the timestamps shared by all payrelay records.
package entity

import "time"

// Entity is embedded by every persisted record.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New stamps both fields with the current UTC time.
func New() Entity {
	return At(time.Now())
}

// At stamps both fields with t in UTC. Used where the caller owns the clock.
func At(t time.Time) Entity {
	t = t.UTC()
	return Entity{CreatedAt: t, UpdatedAt: t}
}
