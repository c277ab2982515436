package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/scrapline/bulkmatch/internal/core/domain"
	"github.com/scrapline/bulkmatch/internal/port"
)

// MySQLStore persists bulk-request aggregates one row each. Commitments,
// rejections and the other list fields live in JSON columns so the whole
// aggregate can be swapped with a single version-conditioned UPDATE.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

const requestColumns = `id, owner_id, audience, lat, lng, scrap_type, subcategories,
		requested_quantity, asking_price, radius_km, attachments, commitments,
		rejections, total_committed, status, version, created_at, updated_at`

const duplicateKeyErrNo = 1062

func (s *MySQLStore) Create(ctx context.Context, req *domain.BulkRequest) error {
	subcategories, attachments, commitments, rejections, err := marshalLists(req)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bulk_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.OwnerID, req.Audience, req.Location.Lat, req.Location.Lng,
		req.ScrapType, subcategories, req.RequestedQuantity, req.AskingPrice,
		req.RadiusKm, attachments, commitments, rejections, req.TotalCommitted,
		req.Status, req.Version, req.CreatedAt, req.UpdatedAt,
	)
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == duplicateKeyErrNo {
		return port.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetByID(ctx context.Context, id string) (*domain.BulkRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM bulk_requests WHERE id = ?`, id)

	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query request: %w", err)
	}
	return req, nil
}

func (s *MySQLStore) ListVisibleTo(ctx context.Context, viewerRole domain.Role, viewerID string) ([]*domain.BulkRequest, error) {
	return s.list(ctx, `
		SELECT `+requestColumns+` FROM bulk_requests
		WHERE status = ? AND audience = ? AND owner_id <> ?
		ORDER BY created_at DESC, id`,
		domain.StatusActive, viewerRole, viewerID)
}

func (s *MySQLStore) ListByOwner(ctx context.Context, ownerID string) ([]*domain.BulkRequest, error) {
	return s.list(ctx, `
		SELECT `+requestColumns+` FROM bulk_requests
		WHERE owner_id = ?
		ORDER BY created_at DESC, id`, ownerID)
}

func (s *MySQLStore) ListAcceptedBy(ctx context.Context, counterpartyID string) ([]*domain.BulkRequest, error) {
	return s.list(ctx, `
		SELECT `+requestColumns+` FROM bulk_requests
		WHERE JSON_CONTAINS(commitments, JSON_OBJECT('counterparty_id', ?))
		ORDER BY created_at DESC, id`, counterpartyID)
}

// CompareAndSwap rewrites the mutable aggregate fields in a single
// conditional UPDATE keyed on the version column. Zero rows affected means
// another writer got there first.
func (s *MySQLStore) CompareAndSwap(ctx context.Context, updated *domain.BulkRequest, expectedVersion int64) error {
	_, _, commitments, rejections, err := marshalLists(updated)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE bulk_requests
		SET commitments = ?, rejections = ?, total_committed = ?, status = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		commitments, rejections, updated.TotalCommitted, updated.Status,
		updated.UpdatedAt, updated.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrVersionConflict
	}
	updated.Version = expectedVersion + 1
	return nil
}

func (s *MySQLStore) list(ctx context.Context, query string, args ...any) ([]*domain.BulkRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var out []*domain.BulkRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*domain.BulkRequest, error) {
	var req domain.BulkRequest
	var subcategories, attachments, commitments, rejections []byte

	err := row.Scan(
		&req.ID, &req.OwnerID, &req.Audience, &req.Location.Lat, &req.Location.Lng,
		&req.ScrapType, &subcategories, &req.RequestedQuantity, &req.AskingPrice,
		&req.RadiusKm, &attachments, &commitments, &rejections, &req.TotalCommitted,
		&req.Status, &req.Version, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(subcategories, &req.Subcategories); err != nil {
		return nil, fmt.Errorf("decode subcategories: %w", err)
	}
	if err := json.Unmarshal(attachments, &req.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	if err := json.Unmarshal(commitments, &req.Commitments); err != nil {
		return nil, fmt.Errorf("decode commitments: %w", err)
	}
	if err := json.Unmarshal(rejections, &req.Rejections); err != nil {
		return nil, fmt.Errorf("decode rejections: %w", err)
	}
	return &req, nil
}

func marshalLists(req *domain.BulkRequest) (subcategories, attachments, commitments, rejections []byte, err error) {
	if subcategories, err = marshalList(req.Subcategories); err != nil {
		return
	}
	if attachments, err = marshalList(req.Attachments); err != nil {
		return
	}
	if commitments, err = marshalList(req.Commitments); err != nil {
		return
	}
	rejections, err = marshalList(req.Rejections)
	return
}

// marshalList keeps nil slices as JSON arrays so JSON_CONTAINS queries and
// round-tripped aggregates behave the same as freshly built ones.
func marshalList[T any](list []T) ([]byte, error) {
	if list == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(list)
}
