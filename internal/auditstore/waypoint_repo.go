package auditstore

import (
	"errors"
	"fmt"
)

// ErrNoWaypointForHostname is returned when no override is configured for a hostname.
var ErrNoWaypointForHostname = errors.New("hostname has no waypoint configured")

// Waypoint redirects a request's actual destination away from the
// hostname the client asked for, per spec §4.1's waypoint-aware dialing.
type Waypoint struct {
	Hostname string
	Override string
}

type dbWaypoint struct {
	Hostname string `db:"hostname"`
	Override string `db:"override"`
}

// Waypoints returns every configured hostname override.
func (s *Store) Waypoints() ([]Waypoint, error) {
	var rows []dbWaypoint
	if err := s.db.Select(&rows, `SELECT hostname, override FROM waypoint`); err != nil {
		return nil, fmt.Errorf("retrieving waypoints: %w", err)
	}
	out := make([]Waypoint, len(rows))
	for i, row := range rows {
		out[i] = Waypoint{Hostname: row.Hostname, Override: row.Override}
	}
	return out, nil
}

// SetWaypoint creates or updates the override for hostname.
func (s *Store) SetWaypoint(hostname, override string) error {
	query := `INSERT INTO waypoint(hostname, override) VALUES (?, ?)
	          ON CONFLICT(hostname) DO UPDATE SET override = excluded.override`
	if _, err := s.db.Exec(query, hostname, override); err != nil {
		return fmt.Errorf("setting waypoint for %s: %w", hostname, err)
	}
	return nil
}

// DeleteWaypoint removes the override configured for hostname.
func (s *Store) DeleteWaypoint(hostname string) error {
	result, err := s.db.Exec(`DELETE FROM waypoint WHERE hostname = ?`, hostname)
	if err != nil {
		return fmt.Errorf("deleting waypoint for %s: %w", hostname, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking deletion rows affected for %s: %w", hostname, err)
	}
	if affected == 0 {
		return ErrNoWaypointForHostname
	}
	return nil
}
