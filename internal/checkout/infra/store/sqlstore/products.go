package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

const productColumns = `id, name, price, tag, images, sizes, collection_title, created_at`

var _ ports.CatalogReader = (*Store)(nil)

// Products resolves ids to catalog entries. Unknown ids are absent from the
// result.
func (s *Store) Products(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `SELECT ` + productColumns + ` FROM products WHERE id IN (` +
		strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + `)`

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(q), args...)
	if err != nil {
		return nil, persistErr("lookup products", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, persistErr("scan product", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("lookup products", err)
	}
	return out, nil
}

// ListProducts returns the catalog, newest first.
func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, persistErr("list products", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, persistErr("scan product", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list products", err)
	}
	return out, nil
}

// Product returns a single entry or domain.ErrProductNotFound.
func (s *Store) Product(ctx context.Context, id string) (domain.Product, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
	}
	if err != nil {
		return domain.Product{}, persistErr("get product "+id, err)
	}
	return p, nil
}

// ReplaceProducts swaps the whole catalog in one transaction. Used by the
// seed command.
func (s *Store) ReplaceProducts(ctx context.Context, products []domain.Product) error {
	return s.withTx(ctx, "replace products", func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `DELETE FROM products`); err != nil {
			return err
		}
		const q = `
			INSERT INTO products (` + productColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
		for _, p := range products {
			images, err := jsonArg(nonNil(p.Images))
			if err != nil {
				return err
			}
			sizes, err := jsonArg(nonNil(p.Sizes))
			if err != nil {
				return err
			}
			if _, err := s.exec(ctx, tx, q,
				p.ID, p.Name, p.Price, p.Tag, images, sizes, p.CollectionTitle,
				s.dialect.timeArg(p.CreatedAt),
			); err != nil {
				return fmt.Errorf("insert %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Price, &p.Tag,
		jsonCol{&p.Images}, jsonCol{&p.Sizes},
		&p.CollectionTitle, timeCol{&p.CreatedAt},
	)
	return p, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
