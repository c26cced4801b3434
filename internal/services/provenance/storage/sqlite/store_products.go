package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tracefold/tracefold/internal/platform/pagination"
	"github.com/tracefold/tracefold/internal/services/provenance/storage"
)

const productColumns = `product_id, name, description, manufacturer, metadata_uri,
	active, created_at, tx_hash, block_number`

// UpsertProduct inserts or replaces a product by natural id. Re-delivery of
// the same registration converges to the same row.
func (s *Store) UpsertProduct(ctx context.Context, product storage.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if product.ProductID == 0 {
		return fmt.Errorf("product id is required")
	}
	if strings.TrimSpace(product.Manufacturer) == "" {
		return fmt.Errorf("manufacturer is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(product_id) DO UPDATE SET
		   name = excluded.name,
		   description = excluded.description,
		   manufacturer = excluded.manufacturer,
		   metadata_uri = excluded.metadata_uri,
		   active = excluded.active,
		   created_at = excluded.created_at,
		   tx_hash = excluded.tx_hash,
		   block_number = excluded.block_number`,
		int64(product.ProductID),
		product.Name,
		product.Description,
		product.Manufacturer,
		product.MetadataURI,
		boolToInt(product.Active),
		toMillis(product.CreatedAt),
		product.TxHash,
		int64(product.BlockNumber),
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// GetProduct returns one product by natural id.
func (s *Store) GetProduct(ctx context.Context, productID uint64) (storage.Product, error) {
	if err := ctx.Err(); err != nil {
		return storage.Product{}, err
	}
	if err := s.ready(); err != nil {
		return storage.Product{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE product_id = ?`, int64(productID))
	product, err := scanProduct(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.Product{}, storage.ErrNotFound
		}
		return storage.Product{}, fmt.Errorf("get product: %w", err)
	}
	return product, nil
}

// ListProducts returns a filtered page of products ordered by creation time
// descending, plus the total matching count.
func (s *Store) ListProducts(ctx context.Context, filter storage.ProductFilter, page pagination.Page) ([]storage.Product, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if err := s.ready(); err != nil {
		return nil, 0, err
	}

	where := []string{"1=1"}
	args := []any{}
	if manufacturer := strings.TrimSpace(filter.Manufacturer); manufacturer != "" {
		where = append(where, "manufacturer = ?")
		args = append(args, manufacturer)
	}
	if filter.Active != nil {
		where = append(where, "active = ?")
		args = append(args, boolToInt(*filter.Active))
	}
	clause := strings.Join(where, " AND ")

	var total int
	row := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE `+clause, args...)
	if err := row.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE ` + clause +
		` ORDER BY created_at DESC, product_id DESC LIMIT ? OFFSET ?`
	rows, err := s.sqlDB.QueryContext(ctx, query, append(args, page.Limit, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []storage.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate products: %w", err)
	}
	return products, total, nil
}

// SearchProducts returns products whose name or description contains the
// query, case-insensitively.
func (s *Store) SearchProducts(ctx context.Context, query string, limit int) ([]storage.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products
		 WHERE name LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\'
		 ORDER BY created_at DESC LIMIT ?`,
		pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	defer rows.Close()

	var products []storage.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (storage.Product, error) {
	var (
		product   storage.Product
		productID int64
		active    int
		createdAt int64
		block     int64
	)
	err := row.Scan(&productID, &product.Name, &product.Description,
		&product.Manufacturer, &product.MetadataURI, &active, &createdAt,
		&product.TxHash, &block)
	if err != nil {
		return storage.Product{}, err
	}
	product.ProductID = uint64(productID)
	product.Active = active != 0
	product.CreatedAt = fromMillis(createdAt)
	product.BlockNumber = uint64(block)
	return product, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, "%", `\%`)
	value = strings.ReplaceAll(value, "_", `\_`)
	return value
}
