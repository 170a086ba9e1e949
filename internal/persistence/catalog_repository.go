package persistence

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/IliaW/cphi-crawler/internal/model"
	"github.com/lib/pq"
	"github.com/rotisserie/eris"
)

const maxCountedProducts = 20

type CatalogStorage interface {
	LookupSupplier(ctx context.Context, productName string) (*model.SupplierInfo, error)
	IncrementSearchCount(ctx context.Context, query string) error
}

// CatalogRepository reads the application's own products/suppliers tables.
type CatalogRepository struct {
	db      *sql.DB
	timeout time.Duration
}

func NewCatalogRepository(db *sql.DB, lookupTimeout time.Duration) *CatalogRepository {
	return &CatalogRepository{db: db, timeout: lookupTimeout}
}

// LookupSupplier returns the first supplier of a product whose name contains
// productName, or nil when there is none.
func (cr *CatalogRepository) LookupSupplier(ctx context.Context, productName string) (*model.SupplierInfo, error) {
	ctx, cancel := cr.withTimeout(ctx)
	defer cancel()

	var (
		info         model.SupplierInfo
		country      sql.NullString
		supplierType sql.NullString
		verified     sql.NullBool
	)
	err := cr.db.QueryRowContext(ctx, `SELECT s.name, s.country, s.supplier_type, s.verified
	FROM products p
	JOIN suppliers s ON s.product_id = p.id
	WHERE p.name ILIKE $1
	ORDER BY p.id, s.id
	LIMIT 1;`, likePattern(productName)).Scan(&info.Name, &country, &supplierType, &verified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "failed to look up supplier for %q", productName)
	}
	info.Country = country.String
	info.SupplierType = supplierType.String
	info.Verified = verified.Valid && verified.Bool

	return &info, nil
}

// IncrementSearchCount bumps the popularity counter of the products the
// query matches. Autocomplete orders suggestions by it.
func (cr *CatalogRepository) IncrementSearchCount(ctx context.Context, query string) error {
	ctx, cancel := cr.withTimeout(ctx)
	defer cancel()

	rows, err := cr.db.QueryContext(ctx, `SELECT id FROM products WHERE name ILIKE $1 ORDER BY id LIMIT $2;`,
		likePattern(query), maxCountedProducts)
	if err != nil {
		return eris.Wrap(err, "failed to select products for search count")
	}
	ids := make([]int64, 0, maxCountedProducts)
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			rows.Close()
			return eris.Wrap(err, "failed to scan product id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return eris.Wrap(err, "failed to read product ids")
	}
	if len(ids) == 0 {
		return nil
	}

	_, err = cr.db.ExecContext(ctx, `SELECT increment_search_count($1, $2);`, query, pq.Array(ids))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42883" {
			slog.Debug("increment_search_count is not installed.", slog.String("err", pqErr.Message))
			return nil
		}
		return eris.Wrap(err, "failed to increment search count")
	}
	slog.Debug("search count incremented.", slog.String("query", query), slog.Int("products", len(ids)))

	return nil
}

func (cr *CatalogRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if cr.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cr.timeout)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern matches s anywhere, with LIKE wildcards in s taken literally.
func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
