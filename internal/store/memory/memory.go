package memory

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"laeconomica/backend/internal/domain"
	"laeconomica/backend/internal/store"
	"laeconomica/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	productByCode   map[string]string
	productBySKU    map[string]string
	cartsByUser     map[string]domain.Cart
	ordersByID      map[string]domain.Order
	refundsByID     map[string]domain.Refund
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cajero", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	products := []domain.Product{
		{ID: "prod-coca-600", Barcode: "7501055300891", SKU: "BEB-COCA-600", Name: "Coca-Cola 600ml", Category: "bebidas", Price: 18.50, Unit: domain.UnitPiece, StockQuantity: 48, Active: true},
		{ID: "prod-leche-1l", Barcode: "7501020511512", SKU: "LAC-LECHE-1L", Name: "Leche Entera 1L", Category: "lacteos", Price: 26.00, Unit: domain.UnitPiece, StockQuantity: 36, Active: true},
		{ID: "prod-huevo-12", Barcode: "7501031344437", SKU: "ABA-HUEVO-12", Name: "Huevo Blanco 12 pzas", Category: "abarrotes", Price: 42.00, Unit: domain.UnitPiece, StockQuantity: 24, Active: true},
		{ID: "prod-pan-blanco", Barcode: "7501030459620", SKU: "PAN-BLANCO", Name: "Pan Blanco Grande", Category: "panaderia", Price: 44.50, Unit: domain.UnitPiece, StockQuantity: 18, Active: true},
		{ID: "prod-tomate", Barcode: "2000000000017", SKU: "FRU-TOMATE", Name: "Tomate Saladet", Category: "frutas-verduras", Price: 32.00, Unit: domain.UnitKilo, SellByWeight: true, StockQuantity: 25.5, Active: true},
		{ID: "prod-aguacate", Barcode: "2000000000024", SKU: "FRU-AGUACATE", Name: "Aguacate Hass", Category: "frutas-verduras", Price: 89.90, Unit: domain.UnitKilo, SellByWeight: true, StockQuantity: 12.3, MaxQuantity: 5, Active: true},
		{ID: "prod-jamon", Barcode: "2000000000031", SKU: "SAL-JAMON", Name: "Jamón de Pavo", Category: "salchichoneria", Price: 0.14, Unit: domain.UnitGram, SellByWeight: true, StockQuantity: 8000, Active: true},
		{ID: "prod-queso", Barcode: "2000000000048", SKU: "SAL-QUESO", Name: "Queso Oaxaca", Category: "salchichoneria", Price: 0.19, Unit: domain.UnitGram, SellByWeight: true, StockQuantity: 5000, Active: true},
		{ID: "prod-agua-granel", Barcode: "2000000000055", SKU: "BEB-AGUA-GRANEL", Name: "Agua de Jamaica", Category: "bebidas", Price: 28.00, Unit: domain.UnitLiter, SellByWeight: true, StockQuantity: 40, Active: true},
		{ID: "prod-frijol", Barcode: "7501008023624", SKU: "ABA-FRIJOL-1KG", Name: "Frijol Negro 1kg", Category: "abarrotes", Price: 38.00, Unit: domain.UnitPiece, StockQuantity: 30, Active: true},
		{ID: "prod-jabon", Barcode: "7501026005702", SKU: "HOG-JABON", Name: "Jabón de Tocador", Category: "hogar", Price: 15.50, Unit: domain.UnitPiece, StockQuantity: 60, Active: true},
		{ID: "prod-sabritas", Barcode: "7500478006472", SKU: "BOT-SABRITAS", Name: "Papas Saladas 45g", Category: "botanas", Price: 19.00, Unit: domain.UnitPiece, StockQuantity: 50, MaxQuantity: 10, Active: true},
	}

	productMap := make(map[string]domain.Product, len(products))
	byCode := make(map[string]string, len(products))
	bySKU := make(map[string]string, len(products))
	for _, p := range products {
		productMap[p.ID] = p
		byCode[p.Barcode] = p.ID
		bySKU[p.SKU] = p.ID
	}

	return &Store{
		products:        productMap,
		productByCode:   byCode,
		productBySKU:    bySKU,
		cartsByUser:     make(map[string]domain.Cart),
		ordersByID:      make(map[string]domain.Order),
		refundsByID:     make(map[string]domain.Refund),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active && !includeInactive {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Barcode == "" || product.Name == "" || product.Price < 0 || product.StockQuantity < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.productByCode[product.Barcode]; exists {
		return nil, store.ErrInvalidInput
	}
	if product.SKU != "" {
		if _, exists := s.productBySKU[product.SKU]; exists {
			return nil, store.ErrInvalidInput
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}

	product.Active = true
	s.products[product.ID] = product
	s.productByCode[product.Barcode] = product.ID
	if product.SKU != "" {
		s.productBySKU[product.SKU] = product.ID
	}
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.productByCode[barcode]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := s.products[id]
	return &copyProduct, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.productBySKU[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := s.products[id]
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.Price < 0 || product.StockQuantity < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.products[product.ID]; !exists {
		return nil, store.ErrNotFound
	}

	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) EnsureCart(_ context.Context, userID string) (*domain.Cart, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cart, exists := s.cartsByUser[userID]; exists {
		copyCart := cloneCart(cart)
		return &copyCart, nil
	}

	cart := domain.Cart{
		ID:        xid.New("cart"),
		UserID:    userID,
		Items:     []domain.CartLine{},
		Version:   1,
		UpdatedAt: time.Now().UTC(),
	}
	s.cartsByUser[userID] = cart
	copyCart := cloneCart(cart)
	return &copyCart, nil
}

func (s *Store) GetCartByUser(_ context.Context, userID string) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, exists := s.cartsByUser[userID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCart := cloneCart(cart)
	return &copyCart, nil
}

// SaveCart persists the cart only when the stored version still matches
// expectedVersion; a moved version means a concurrent writer won and the
// caller must re-read.
func (s *Store) SaveCart(_ context.Context, cart domain.Cart, expectedVersion int64) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.cartsByUser[cart.UserID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, store.ErrVersionConflict
	}

	cart.ID = current.ID
	cart.Version = current.Version + 1
	cart.UpdatedAt = time.Now().UTC()
	s.cartsByUser[cart.UserID] = cloneCart(cart)
	saved := cloneCart(cart)
	return &saved, nil
}

// CreateOrder performs the entire checkout write phase under one lock: the
// stock of every line is re-checked and decremented, the order is stored,
// and the cashier's cart is cleared. Either everything applies or nothing.
func (s *Store) CreateOrder(_ context.Context, order domain.Order, clearCartUserID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(order.Items) == 0 {
		return nil, store.ErrEmptyCart
	}

	// Duplicate lines for one product must be validated against their
	// combined quantity, not each against the full stock.
	required := make(map[string]float64, len(order.Items))
	for _, line := range order.Items {
		product, exists := s.products[line.ProductID]
		if !exists || !product.Active {
			return nil, fmt.Errorf("%w: producto %s", store.ErrNotFound, line.ProductID)
		}
		required[line.ProductID] = roundQty(required[line.ProductID] + line.Quantity)
		if product.StockQuantity+stockEpsilon < required[line.ProductID] {
			return nil, store.ErrInsufficientStock
		}
	}

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusCompleted
	}

	for _, line := range order.Items {
		product := s.products[line.ProductID]
		product.StockQuantity = roundQty(product.StockQuantity - line.Quantity)
		s.products[line.ProductID] = product
	}

	if clearCartUserID != "" {
		if cart, exists := s.cartsByUser[clearCartUserID]; exists {
			cart.Items = []domain.CartLine{}
			cart.Version++
			cart.UpdatedAt = time.Now().UTC()
			s.cartsByUser[clearCartUserID] = cart
		}
	}

	s.ordersByID[order.ID] = cloneOrder(order)
	created := cloneOrder(order)
	return &created, nil
}

func (s *Store) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.ordersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyOrder := cloneOrder(order)
	return &copyOrder, nil
}

func (s *Store) ListOrders(_ context.Context, filter domain.SalesFilter) ([]domain.Order, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Order, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		if !filter.FromDate.IsZero() && order.CreatedAt.Before(filter.FromDate) {
			continue
		}
		if !filter.ToDate.IsZero() && !order.CreatedAt.Before(filter.ToDate) {
			continue
		}
		if filter.CashierID != "" && order.CashierID != filter.CashierID {
			continue
		}
		matched = append(matched, cloneOrder(order))
	}

	slices.SortFunc(matched, func(a, b domain.Order) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})

	total := int64(len(matched))
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}
	start := (page - 1) * limit
	if start >= len(matched) {
		return []domain.Order{}, total, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (s *Store) ListCompletedOrders(_ context.Context, from time.Time, to time.Time, cashierID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		if order.Status != domain.OrderStatusCompleted {
			continue
		}
		if !from.IsZero() && order.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !order.CreatedAt.Before(to) {
			continue
		}
		if cashierID != "" && order.CashierID != cashierID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	slices.SortFunc(result, func(a, b domain.Order) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

// CreateRefund stores the refund and restores stock for every returned line
// in one lock section, after validating the order and the cumulative cap.
func (s *Store) CreateRefund(_ context.Context, refund domain.Refund) (*domain.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.ordersByID[refund.OrderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if len(refund.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	soldByProduct := make(map[string]float64, len(order.Items))
	for _, line := range order.Items {
		soldByProduct[line.ProductID] += line.Quantity
	}
	refundedByProduct := make(map[string]float64)
	for _, existing := range s.refundsByID {
		if existing.OrderID != refund.OrderID {
			continue
		}
		for _, line := range existing.Items {
			refundedByProduct[line.ProductID] += line.Quantity
		}
	}

	for _, line := range refund.Items {
		if line.Quantity <= 0 {
			return nil, store.ErrInvalidInput
		}
		sold, soldExists := soldByProduct[line.ProductID]
		if !soldExists {
			return nil, store.ErrInvalidInput
		}
		if refundedByProduct[line.ProductID]+line.Quantity > sold+stockEpsilon {
			return nil, store.ErrInvalidInput
		}
	}

	if refund.ID == "" {
		refund.ID = xid.New("ref")
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}
	if refund.Status == "" {
		refund.Status = domain.RefundStatusCompleted
	}

	for _, line := range refund.Items {
		product, exists := s.products[line.ProductID]
		if !exists {
			continue
		}
		product.StockQuantity = roundQty(product.StockQuantity + line.Quantity)
		s.products[line.ProductID] = product
	}

	s.refundsByID[refund.ID] = cloneRefund(refund)
	created := cloneRefund(refund)
	return &created, nil
}

func (s *Store) GetRefundedQtyByOrder(_ context.Context, orderID string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]float64)
	for _, refund := range s.refundsByID {
		if refund.OrderID != orderID {
			continue
		}
		for _, line := range refund.Items {
			result[line.ProductID] += line.Quantity
		}
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// stockEpsilon tolerates float drift when comparing fractional weight stock.
const stockEpsilon = 0.001

func roundQty(qty float64) float64 {
	return math.Round(qty*1000) / 1000
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneCart(src domain.Cart) domain.Cart {
	dup := src
	items := make([]domain.CartLine, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}

func cloneOrder(src domain.Order) domain.Order {
	dup := src
	items := make([]domain.OrderLine, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}

func cloneRefund(src domain.Refund) domain.Refund {
	dup := src
	items := make([]domain.RefundItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}
