package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool used by Repo.
type DB interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repo struct{ DB DB }

// PlaceOrder checks and decrements stock and inserts the order in one
// transaction. The product row stays locked (FOR UPDATE) until commit, so
// concurrent orders for the same product are serialized.
func (r *Repo) PlaceOrder(ctx context.Context, in NewOrder) (Placement, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Placement{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var stock int
	err = tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1 FOR UPDATE`, in.ProductID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return Placement{}, ErrProductNotFound
	}
	if err != nil {
		return Placement{}, fmt.Errorf("lock product %d: %w", in.ProductID, err)
	}
	if stock < in.Quantity {
		return Placement{}, ErrInsufficientStock
	}

	ct, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2 WHERE id=$1`, in.ProductID, in.Quantity)
	if err != nil {
		return Placement{}, fmt.Errorf("decrement stock: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return Placement{}, fmt.Errorf("decrement stock: %d rows affected", ct.RowsAffected())
	}

	o := Order{
		ProductID:       in.ProductID,
		CustomerName:    in.CustomerName,
		CustomerAddress: in.CustomerAddress,
		CustomerPhone:   in.CustomerPhone,
		Quantity:        in.Quantity,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO orders(product_id, customer_name, customer_address, customer_phone, quantity)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		o.ProductID, o.CustomerName, o.CustomerAddress, o.CustomerPhone, o.Quantity,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return Placement{}, fmt.Errorf("insert order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Placement{}, fmt.Errorf("commit order: %w", err)
	}
	return Placement{Order: o, RemainingStock: stock - in.Quantity}, nil
}

func (r *Repo) GetOrder(ctx context.Context, id int64) (Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, product_id, customer_name, customer_address, customer_phone, quantity, created_at
		FROM orders WHERE id=$1`, id,
	).Scan(&o.ID, &o.ProductID, &o.CustomerName, &o.CustomerAddress, &o.CustomerPhone, &o.Quantity, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

// ListOrders returns every order in insertion order.
func (r *Repo) ListOrders(ctx context.Context) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, product_id, customer_name, customer_address, customer_phone, quantity, created_at
		FROM orders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.ProductID, &o.CustomerName, &o.CustomerAddress, &o.CustomerPhone, &o.Quantity, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

// CreateProduct inserts the product and returns the price as stored by the
// column, not as submitted.
func (r *Repo) CreateProduct(ctx context.Context, in NewProduct) (Product, error) {
	p := Product{Name: in.Name, Price: in.Price, Stock: in.Stock}
	err := r.DB.QueryRow(ctx, `
		INSERT INTO products(name, price, stock) VALUES ($1, $2, $3)
		RETURNING id, price`, p.Name, p.Price, p.Stock,
	).Scan(&p.ID, &p.Price)
	if err != nil {
		return Product{}, fmt.Errorf("insert product: %w", err)
	}
	return p, nil
}

func (r *Repo) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.DB.QueryRow(ctx, `SELECT id, name, price, stock FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name, price, stock FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	out := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return out, nil
}
