package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"laeconomica/backend/internal/domain"
	"laeconomica/backend/internal/store"
	"laeconomica/backend/internal/xid"
)

const stockEpsilon = 0.001

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, barcode, sku, name, category, price, unit, sell_by_weight, stock_quantity, max_quantity, active`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Barcode, &p.SKU, &p.Name, &p.Category, &p.Price, &p.Unit, &p.SellByWeight, &p.StockQuantity, &p.MaxQuantity, &p.Active)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE $1 OR active = true
		ORDER BY category, name
	`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Price < 0 || product.StockQuantity < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.Unit == "" {
		product.Unit = domain.UnitPiece
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, barcode, sku, name, category, price, unit, sell_by_weight, stock_quantity, max_quantity, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())
	`, product.ID, product.Barcode, product.SKU, product.Name, product.Category, product.Price, product.Unit, product.SellByWeight, product.StockQuantity, product.MaxQuantity, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	return s.getProduct(ctx, "id", id)
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	return s.getProduct(ctx, "barcode", barcode)
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	return s.getProduct(ctx, "sku", sku)
}

func (s *Store) getProduct(ctx context.Context, column string, value string) (*domain.Product, error) {
	if column != "id" && column != "barcode" && column != "sku" {
		return nil, store.ErrInvalidInput
	}

	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE `+column+` = $1
	`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Price < 0 || product.StockQuantity < 0 {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price = $4, stock_quantity = $5, max_quantity = $6, active = $7, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.Price, product.StockQuantity, product.MaxQuantity, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) EnsureCart(ctx context.Context, userID string) (*domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, store.ErrInvalidInput
	}

	// The UNIQUE constraint on user_id makes concurrent creation safe: the
	// losing insert is a no-op and both callers read the same row back.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO carts (id, user_id, items, version, updated_at)
		VALUES ($1,$2,'[]'::jsonb,1,now())
		ON CONFLICT (user_id) DO NOTHING
	`, xid.New("cart"), userID)
	if err != nil {
		return nil, err
	}

	return s.GetCartByUser(ctx, userID)
}

func (s *Store) GetCartByUser(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart
	var itemsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, items, version, updated_at
		FROM carts
		WHERE user_id = $1
	`, userID).Scan(&cart.ID, &cart.UserID, &itemsJSON, &cart.Version, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &cart.Items); err != nil {
		return nil, err
	}
	cart.UpdatedAt = cart.UpdatedAt.UTC()
	return &cart, nil
}

func (s *Store) SaveCart(ctx context.Context, cart domain.Cart, expectedVersion int64) (*domain.Cart, error) {
	itemsJSON, err := json.Marshal(cart.Items)
	if err != nil {
		return nil, err
	}

	var saved domain.Cart
	var savedItems []byte
	err = s.db.QueryRowContext(ctx, `
		UPDATE carts
		SET items = $3, version = version + 1, updated_at = now()
		WHERE user_id = $1 AND version = $2
		RETURNING id, user_id, items, version, updated_at
	`, cart.UserID, expectedVersion, itemsJSON).Scan(&saved.ID, &saved.UserID, &savedItems, &saved.Version, &saved.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, lookupErr := s.GetCartByUser(ctx, cart.UserID); lookupErr != nil {
				return nil, store.ErrNotFound
			}
			return nil, store.ErrVersionConflict
		}
		return nil, err
	}
	if err := json.Unmarshal(savedItems, &saved.Items); err != nil {
		return nil, err
	}
	saved.UpdatedAt = saved.UpdatedAt.UTC()
	return &saved, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order, clearCartUserID string) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, store.ErrEmptyCart
	}
	if order.ID == "" {
		order.ID = xid.New("order")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusCompleted
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	for _, line := range order.Items {
		if line.Quantity <= 0 {
			return nil, store.ErrInvalidInput
		}
		// Guarded decrement: zero rows affected means the stock moved under
		// us and the whole transaction rolls back.
		res, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity - $2, updated_at = now()
			WHERE id = $1 AND active = true AND stock_quantity + $3 >= $2
		`, line.ProductID, line.Quantity, stockEpsilon)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrInsufficientStock
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, cashier_id, customer_id, status, payment_method,
			subtotal, discount, tax, total, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, order.ID, order.OrderNumber, order.CashierID, nullIfEmpty(order.CustomerID), order.Status,
		order.PaymentMethod, order.Subtotal, order.Discount, order.Tax, order.Total, order.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, line := range order.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, quantity, unit, unit_price, total_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, order.ID, line.ProductID, line.ProductName, line.Quantity, line.Unit, line.UnitPrice, line.LineTotal)
		if err != nil {
			return nil, err
		}
	}

	if clearCartUserID != "" {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE carts
			SET items = '[]'::jsonb, version = version + 1, updated_at = now()
			WHERE user_id = $1
		`, clearCartUserID)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := order
	return &created, nil
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order
	var customerID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, order_number, cashier_id, customer_id, status, payment_method,
			subtotal, discount, tax, total, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.OrderNumber, &order.CashierID, &customerID, &order.Status,
		&order.PaymentMethod, &order.Subtotal, &order.Discount, &order.Tax, &order.Total, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		order.CustomerID = customerID.String
	}
	order.CreatedAt = order.CreatedAt.UTC()

	items, err := s.listOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return &order, nil
}

func (s *Store) listOrderItems(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit, unit_price, total_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OrderLine, 0, 8)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ProductID, &line.ProductName, &line.Quantity, &line.Unit, &line.UnitPrice, &line.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListOrders(ctx context.Context, filter domain.SalesFilter) ([]domain.Order, int64, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}

	where := `
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at < $2)
			AND ($3 = '' OR cashier_id = $3)
	`
	args := []any{nullZeroTime(filter.FromDate), nullZeroTime(filter.ToDate), filter.CashierID}

	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_number, cashier_id, customer_id, status, payment_method,
			subtotal, discount, tax, total, created_at
		FROM orders`+where+`
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`, append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, 0, err
	}

	for i := range orders {
		items, err := s.listOrderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, 0, err
		}
		orders[i].Items = items
	}

	return orders, total, nil
}

func (s *Store) ListCompletedOrders(ctx context.Context, from time.Time, to time.Time, cashierID string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_number, cashier_id, customer_id, status, payment_method,
			subtotal, discount, tax, total, created_at
		FROM orders
		WHERE status = $1
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at < $3)
			AND ($4 = '' OR cashier_id = $4)
		ORDER BY created_at ASC
	`, domain.OrderStatusCompleted, nullZeroTime(from), nullZeroTime(to), cashierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]domain.Order, error) {
	orders := make([]domain.Order, 0, 32)
	for rows.Next() {
		var order domain.Order
		var customerID sql.NullString
		if err := rows.Scan(&order.ID, &order.OrderNumber, &order.CashierID, &customerID, &order.Status,
			&order.PaymentMethod, &order.Subtotal, &order.Discount, &order.Tax, &order.Total, &order.CreatedAt); err != nil {
			return nil, err
		}
		if customerID.Valid {
			order.CustomerID = customerID.String
		}
		order.CreatedAt = order.CreatedAt.UTC()
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) CreateRefund(ctx context.Context, refund domain.Refund) (*domain.Refund, error) {
	if refund.OrderID == "" || len(refund.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if refund.ID == "" {
		refund.ID = xid.New("refund")
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}
	if refund.Status == "" {
		refund.Status = domain.RefundStatusCompleted
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var orderExists bool
	err = pgTx.QueryRowContext(ctx, `
		SELECT true FROM orders WHERE id = $1 FOR UPDATE
	`, refund.OrderID).Scan(&orderExists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	soldByProduct := make(map[string]float64)
	soldRows, err := pgTx.QueryContext(ctx, `
		SELECT product_id, COALESCE(SUM(quantity), 0)
		FROM order_items
		WHERE order_id = $1
		GROUP BY product_id
	`, refund.OrderID)
	if err != nil {
		return nil, err
	}
	for soldRows.Next() {
		var productID string
		var qty float64
		if err := soldRows.Scan(&productID, &qty); err != nil {
			_ = soldRows.Close()
			return nil, err
		}
		soldByProduct[productID] = qty
	}
	if err := soldRows.Err(); err != nil {
		_ = soldRows.Close()
		return nil, err
	}
	_ = soldRows.Close()

	refundedByProduct := make(map[string]float64)
	refundedRows, err := pgTx.QueryContext(ctx, `
		SELECT ri.product_id, COALESCE(SUM(ri.quantity), 0)
		FROM refunds r
		JOIN refund_items ri ON ri.refund_id = r.id
		WHERE r.order_id = $1
		GROUP BY ri.product_id
	`, refund.OrderID)
	if err != nil {
		return nil, err
	}
	for refundedRows.Next() {
		var productID string
		var qty float64
		if err := refundedRows.Scan(&productID, &qty); err != nil {
			_ = refundedRows.Close()
			return nil, err
		}
		refundedByProduct[productID] = qty
	}
	if err := refundedRows.Err(); err != nil {
		_ = refundedRows.Close()
		return nil, err
	}
	_ = refundedRows.Close()

	for _, line := range refund.Items {
		if line.Quantity <= 0 {
			return nil, store.ErrInvalidInput
		}
		sold, ok := soldByProduct[line.ProductID]
		if !ok {
			return nil, store.ErrInvalidInput
		}
		if refundedByProduct[line.ProductID]+line.Quantity > sold+stockEpsilon {
			return nil, store.ErrInvalidInput
		}
		refundedByProduct[line.ProductID] += line.Quantity
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO refunds (id, order_id, processed_by, reason, amount, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, refund.ID, refund.OrderID, refund.ProcessedBy, refund.Reason, refund.Amount, refund.Status, refund.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, line := range refund.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO refund_items (refund_id, product_id, quantity, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5)
		`, refund.ID, line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal)
		if err != nil {
			return nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity + $2, updated_at = now()
			WHERE id = $1
		`, line.ProductID, line.Quantity)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := refund
	return &created, nil
}

func (s *Store) GetRefundedQtyByOrder(ctx context.Context, orderID string) (map[string]float64, error) {
	result := make(map[string]float64)
	rows, err := s.db.QueryContext(ctx, `
		SELECT ri.product_id, COALESCE(SUM(ri.quantity), 0)
		FROM refunds r
		JOIN refund_items ri ON ri.refund_id = r.id
		WHERE r.order_id = $1
		GROUP BY ri.product_id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var productID string
		var qty float64
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		result[productID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorID, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, nullZeroTime(from), nullZeroTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
