package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"inspectline/internal/domain"
)

type businessRow struct {
	ID      string          `db:"id"`
	Name    string          `db:"name"`
	Address string          `db:"address"`
	Lat     sql.NullFloat64 `db:"lat"`
	Lng     sql.NullFloat64 `db:"lng"`
}

func (b businessRow) business() domain.Business {
	return domain.Business{ID: b.ID, Name: b.Name, Address: b.Address, Lat: floatPtr(b.Lat), Lng: floatPtr(b.Lng)}
}

func (r Repo) InsertBusiness(ctx context.Context, b domain.Business) error {
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(`INSERT INTO businesses(id, name, address, lat, lng, created_at) VALUES (?,?,?,?,?,?)`),
		b.ID, b.Name, b.Address, nullableFloatPtr(b.Lat), nullableFloatPtr(b.Lng), time.Now().UTC().Format(time.RFC3339))
	return err
}

func (r Repo) GetBusiness(ctx context.Context, id string) (domain.Business, error) {
	var row businessRow
	err := r.DB.GetContext(ctx, &row, r.DB.Rebind(`SELECT id, name, address, lat, lng FROM businesses WHERE id=?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Business{}, ErrNotFound
	}
	if err != nil {
		return domain.Business{}, err
	}
	return row.business(), nil
}

// SearchBusinesses matches query against name and address, case-insensitively.
func (r Repo) SearchBusinesses(ctx context.Context, query string, limit int) ([]domain.Business, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	q := fmt.Sprintf(`SELECT id, name, address, lat, lng FROM businesses
WHERE LOWER(name) LIKE ? OR LOWER(address) LIKE ? ORDER BY name, id LIMIT %d`, limit)
	var rows []businessRow
	if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(q), pattern, pattern); err != nil {
		return nil, err
	}
	res := make([]domain.Business, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.business())
	}
	return res, nil
}
