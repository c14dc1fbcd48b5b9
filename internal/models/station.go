package models

import "time"

// Station is an ITP inspection station running the kiosk UI.
type Station struct {
	ID        string    `db:"id"`
	Slug      string    `db:"slug"`
	Name      string    `db:"name"`
	County    string    `db:"county"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}
