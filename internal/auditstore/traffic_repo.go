package auditstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TrafficRecord is the supplemental audit entity named in SPEC_FULL.md §3:
// a durable record of every flow the proxy engine observed, separate from
// the broker's in-memory pending-decision state.
type TrafficRecord struct {
	ID          uuid.UUID
	FlowID      string
	Method      string
	URL         string
	Host        string
	Path        string
	StatusCode  int
	RequestRaw  []byte
	ResponseRaw []byte
	Intercepted bool
	Injected    bool
	RequestedAt time.Time
	RespondedAt time.Time
}

type dbTraffic struct {
	ID          uuid.UUID      `db:"id"`
	FlowID      string         `db:"flow_id"`
	Method      string         `db:"method"`
	URL         string         `db:"url"`
	Host        string         `db:"host"`
	Path        string         `db:"path"`
	StatusCode  sql.NullInt64  `db:"status_code"`
	RequestRaw  []byte         `db:"request_raw"`
	ResponseRaw []byte         `db:"response_raw"`
	Intercepted bool           `db:"intercepted"`
	Injected    bool           `db:"injected"`
	RequestedAt time.Time      `db:"requested_at"`
	RespondedAt sql.NullTime   `db:"responded_at"`
}

func toDomainTraffic(row *dbTraffic) *TrafficRecord {
	rec := &TrafficRecord{
		ID:          row.ID,
		FlowID:      row.FlowID,
		Method:      row.Method,
		URL:         row.URL,
		Host:        row.Host,
		Path:        row.Path,
		RequestRaw:  row.RequestRaw,
		ResponseRaw: row.ResponseRaw,
		Intercepted: row.Intercepted,
		Injected:    row.Injected,
		RequestedAt: row.RequestedAt,
	}
	if row.StatusCode.Valid {
		rec.StatusCode = int(row.StatusCode.Int64)
	}
	if row.RespondedAt.Valid {
		rec.RespondedAt = row.RespondedAt.Time
	}
	return rec
}

// InsertRequest records the request half of a flow as soon as the proxy
// engine sees it, before any decision has been reached.
func (s *Store) InsertRequest(rec *TrafficRecord) error {
	query := `INSERT INTO traffic(id, flow_id, method, url, host, path, request_raw, intercepted, requested_at)
	          VALUES(:id, :flow_id, :method, :url, :host, :path, :request_raw, :intercepted, :requested_at)`
	row := &dbTraffic{
		ID:          rec.ID,
		FlowID:      rec.FlowID,
		Method:      rec.Method,
		URL:         rec.URL,
		Host:        rec.Host,
		Path:        rec.Path,
		RequestRaw:  rec.RequestRaw,
		Intercepted: rec.Intercepted,
		RequestedAt: rec.RequestedAt,
	}
	if _, err := s.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("inserting traffic request %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateResponse fills in the response half of a previously inserted flow.
func (s *Store) UpdateResponse(id uuid.UUID, statusCode int, responseRaw []byte, injected bool, respondedAt time.Time) error {
	query := `UPDATE traffic SET status_code = ?, response_raw = ?, injected = ?, responded_at = ? WHERE id = ?`
	result, err := s.db.Exec(query, statusCode, responseRaw, injected, respondedAt, id)
	if err != nil {
		return fmt.Errorf("updating traffic response %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected for %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("no traffic row found with id %s", id)
	}
	return nil
}

// List returns the most recent traffic records, newest first, bounded by limit.
func (s *Store) List(limit int) ([]*TrafficRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []*dbTraffic
	query := `SELECT id, flow_id, method, url, host, path, status_code, request_raw, response_raw,
	                 intercepted, injected, requested_at, responded_at
	          FROM traffic ORDER BY requested_at DESC LIMIT ?`
	if err := s.db.Select(&rows, query, limit); err != nil {
		return nil, fmt.Errorf("listing traffic: %w", err)
	}
	records := make([]*TrafficRecord, len(rows))
	for i, row := range rows {
		records[i] = toDomainTraffic(row)
	}
	return records, nil
}

// Get retrieves a single traffic record by id.
func (s *Store) Get(id uuid.UUID) (*TrafficRecord, error) {
	var row dbTraffic
	query := `SELECT id, flow_id, method, url, host, path, status_code, request_raw, response_raw,
	                 intercepted, injected, requested_at, responded_at
	          FROM traffic WHERE id = ?`
	if err := s.db.Get(&row, query, id); err != nil {
		return nil, fmt.Errorf("getting traffic record %s: %w", id, err)
	}
	return toDomainTraffic(&row), nil
}
