package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"laeconomica/backend/internal/cache"
	"laeconomica/backend/internal/domain"
	"laeconomica/backend/internal/metrics"
	"laeconomica/backend/internal/store"
	"laeconomica/backend/internal/weight"
	"laeconomica/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// cartSaveRetries bounds the read-mutate-write loop on version conflicts.
const cartSaveRetries = 3

// totalTolerance is how far a caller-supplied checkout total may drift from
// the server-computed one before the sale is rejected.
const totalTolerance = 0.01

type Service struct {
	repo     store.Repository
	products cache.ProductCache
	metrics  *metrics.Metrics
	scanTTL  time.Duration
}

func New(repo store.Repository, products cache.ProductCache, m *metrics.Metrics, scanTTL time.Duration) *Service {
	if products == nil {
		products = cache.NoopProductCache{}
	}
	if scanTTL <= 0 {
		scanTTL = 60 * time.Second
	}

	return &Service{
		repo:     repo,
		products: products,
		metrics:  m,
		scanTTL:  scanTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, includeInactive)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Barcode = strings.TrimSpace(req.Barcode)
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Unit = strings.ToLower(strings.TrimSpace(req.Unit))
	if req.Unit == "" {
		req.Unit = domain.UnitPiece
	}

	if req.Barcode == "" || req.Name == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.Price < 0 || req.InitialStock < 0 || req.MaxQuantity < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	product := domain.Product{
		ID:            xid.New("prod"),
		Barcode:       req.Barcode,
		SKU:           req.SKU,
		Name:          req.Name,
		Category:      req.Category,
		Price:         req.Price,
		Unit:          req.Unit,
		SellByWeight:  req.SellByWeight || weight.IsWeightBased(domain.Product{Unit: req.Unit}),
		StockQuantity: req.InitialStock,
		MaxQuantity:   req.MaxQuantity,
		Active:        true,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("barcode=%s,name=%s,price=%.2f,stock=%.3f", created.Barcode, created.Name, created.Price, created.StockQuantity))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Price != nil {
		if *req.Price < 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Price = *req.Price
	}
	if req.StockQuantity != nil {
		if *req.StockQuantity < 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.StockQuantity = *req.StockQuantity
	}
	if req.MaxQuantity != nil {
		if *req.MaxQuantity < 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.MaxQuantity = *req.MaxQuantity
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	if err := s.products.Invalidate(ctx, scanCacheKey(saved.Barcode)); err != nil {
		log.Printf("[service] WARN: failed to invalidate product cache barcode=%s: %v", saved.Barcode, err)
	}

	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("active=%t,price=%.2f,stock=%.3f", saved.Active, saved.Price, saved.StockQuantity))
	return *saved, nil
}

// Scan resolves a product by barcode, SKU, or id. Barcode lookups, the hot
// path at the register, go through the product cache.
func (s *Service) Scan(ctx context.Context, req domain.ScanRequest) (domain.ScanResponse, error) {
	req.Barcode = strings.TrimSpace(req.Barcode)
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.ProductID = strings.TrimSpace(req.ProductID)

	var (
		product *domain.Product
		err     error
	)
	switch {
	case req.Barcode != "":
		key := scanCacheKey(req.Barcode)
		if cached, hit, cacheErr := s.products.Get(ctx, key); cacheErr != nil {
			log.Printf("[service] WARN: product cache get failed barcode=%s: %v", req.Barcode, cacheErr)
		} else if hit {
			product = cached
		}
		if product == nil {
			product, err = s.repo.GetProductByBarcode(ctx, req.Barcode)
			if err == nil {
				if cacheErr := s.products.Set(ctx, key, product, s.scanTTL); cacheErr != nil {
					log.Printf("[service] WARN: product cache set failed barcode=%s: %v", req.Barcode, cacheErr)
				}
			}
		}
	case req.SKU != "":
		product, err = s.repo.GetProductBySKU(ctx, req.SKU)
	case req.ProductID != "":
		product, err = s.repo.GetProductByID(ctx, req.ProductID)
	default:
		return domain.ScanResponse{}, store.ErrInvalidInput
	}
	if err != nil {
		return domain.ScanResponse{}, err
	}
	if !product.Active {
		return domain.ScanResponse{}, fmt.Errorf("%w: Producto agotado", store.ErrOutOfStock)
	}

	return domain.ScanResponse{Message: "Producto encontrado", Product: *product}, nil
}

// AddCartItem validates the requested quantity against the product's unit
// rules and live stock (counting what the cart already holds), then appends
// or increments the line. The save is retried on version conflicts.
func (s *Service) AddCartItem(ctx context.Context, req domain.AddItemRequest) (domain.CartResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CartResponse{}, fmt.Errorf("authenticated user required")
	}

	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		return domain.CartResponse{}, store.ErrInvalidInput
	}

	product, err := s.repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return domain.CartResponse{}, err
	}

	quantity := req.Quantity
	if weight.IsWeightBased(*product) && req.WeightKg > 0 {
		quantity = req.WeightKg
	}
	validation := weight.ValidateQuantity(*product, quantity)
	if !validation.Valid {
		return domain.CartResponse{}, fmt.Errorf("%w: %s", store.ErrInvalidInput, validation.Message)
	}
	quantity = validation.AdjustedQuantity

	unitPrice := product.Price
	if req.UnitPrice > 0 {
		unitPrice = req.UnitPrice
	}

	for attempt := 0; attempt < cartSaveRetries; attempt++ {
		cart, err := s.repo.EnsureCart(ctx, actor.Username)
		if err != nil {
			return domain.CartResponse{}, err
		}

		held := heldQuantity(cart.Items, product.ID)
		stock := weight.CheckStock(*product, quantity, held)
		if !stock.HasStock {
			if stock.AvailableQuantity <= 0 && (!product.Active || product.StockQuantity <= 0) {
				return domain.CartResponse{}, fmt.Errorf("%w: %s", store.ErrOutOfStock, stock.Message)
			}
			return domain.CartResponse{}, fmt.Errorf("%w: %s", store.ErrInsufficientStock, stock.Message)
		}

		updated := false
		for i := range cart.Items {
			if cart.Items[i].ProductID != product.ID {
				continue
			}
			cart.Items[i].Quantity = roundQty(cart.Items[i].Quantity + quantity)
			cart.Items[i].UnitPrice = unitPrice
			cart.Items[i].Subtotal = weight.Price(unitPrice, cart.Items[i].Quantity)
			updated = true
			break
		}
		if !updated {
			cart.Items = append(cart.Items, domain.CartLine{
				ProductID: product.ID,
				Quantity:  quantity,
				UnitPrice: unitPrice,
				Subtotal:  weight.Price(unitPrice, quantity),
			})
		}

		saved, err := s.repo.SaveCart(ctx, *cart, cart.Version)
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				s.metrics.RecordCartConflict()
				continue
			}
			return domain.CartResponse{}, err
		}
		return s.buildCartResponse(ctx, saved, "Producto agregado al carrito")
	}

	return domain.CartResponse{}, store.ErrVersionConflict
}

func (s *Service) CurrentCart(ctx context.Context) (domain.CartResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CartResponse{}, fmt.Errorf("authenticated user required")
	}

	cart, err := s.repo.EnsureCart(ctx, actor.Username)
	if err != nil {
		return domain.CartResponse{}, err
	}
	return s.buildCartResponse(ctx, cart, "")
}

// UpdateCartItem replaces a line's quantity wholesale.
func (s *Service) UpdateCartItem(ctx context.Context, productID string, req domain.UpdateItemRequest) (domain.CartResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CartResponse{}, fmt.Errorf("authenticated user required")
	}

	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CartResponse{}, store.ErrInvalidInput
	}

	product, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return domain.CartResponse{}, err
	}

	quantity := req.Quantity
	if weight.IsWeightBased(*product) && req.WeightKg > 0 {
		quantity = req.WeightKg
	}
	validation := weight.ValidateQuantity(*product, quantity)
	if !validation.Valid {
		return domain.CartResponse{}, fmt.Errorf("%w: %s", store.ErrInvalidInput, validation.Message)
	}
	quantity = validation.AdjustedQuantity

	for attempt := 0; attempt < cartSaveRetries; attempt++ {
		cart, err := s.repo.GetCartByUser(ctx, actor.Username)
		if err != nil {
			return domain.CartResponse{}, err
		}

		found := false
		for i := range cart.Items {
			if cart.Items[i].ProductID != productID {
				continue
			}
			stock := weight.CheckStock(*product, quantity, 0)
			if !stock.HasStock {
				return domain.CartResponse{}, fmt.Errorf("%w: %s", store.ErrInsufficientStock, stock.Message)
			}
			cart.Items[i].Quantity = quantity
			cart.Items[i].Subtotal = weight.Price(cart.Items[i].UnitPrice, quantity)
			found = true
			break
		}
		if !found {
			return domain.CartResponse{}, store.ErrNotFound
		}

		saved, err := s.repo.SaveCart(ctx, *cart, cart.Version)
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				s.metrics.RecordCartConflict()
				continue
			}
			return domain.CartResponse{}, err
		}
		return s.buildCartResponse(ctx, saved, "Cantidad actualizada")
	}

	return domain.CartResponse{}, store.ErrVersionConflict
}

func (s *Service) RemoveCartItem(ctx context.Context, productID string) (domain.CartResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CartResponse{}, fmt.Errorf("authenticated user required")
	}

	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CartResponse{}, store.ErrInvalidInput
	}

	for attempt := 0; attempt < cartSaveRetries; attempt++ {
		cart, err := s.repo.GetCartByUser(ctx, actor.Username)
		if err != nil {
			return domain.CartResponse{}, err
		}

		kept := make([]domain.CartLine, 0, len(cart.Items))
		found := false
		for _, line := range cart.Items {
			if line.ProductID == productID {
				found = true
				continue
			}
			kept = append(kept, line)
		}
		if !found {
			return domain.CartResponse{}, store.ErrNotFound
		}
		cart.Items = kept

		saved, err := s.repo.SaveCart(ctx, *cart, cart.Version)
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				s.metrics.RecordCartConflict()
				continue
			}
			return domain.CartResponse{}, err
		}
		return s.buildCartResponse(ctx, saved, "Producto eliminado del carrito")
	}

	return domain.CartResponse{}, store.ErrVersionConflict
}

func (s *Service) ClearCart(ctx context.Context) (domain.CartResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CartResponse{}, fmt.Errorf("authenticated user required")
	}

	for attempt := 0; attempt < cartSaveRetries; attempt++ {
		cart, err := s.repo.EnsureCart(ctx, actor.Username)
		if err != nil {
			return domain.CartResponse{}, err
		}
		cart.Items = []domain.CartLine{}

		saved, err := s.repo.SaveCart(ctx, *cart, cart.Version)
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				s.metrics.RecordCartConflict()
				continue
			}
			return domain.CartResponse{}, err
		}
		return s.buildCartResponse(ctx, saved, "Carrito vaciado")
	}

	return domain.CartResponse{}, store.ErrVersionConflict
}

// Checkout composes a sale from the caller's cart (or an explicit item list),
// re-reading live products and prices. The write phase is one atomic store
// call, so a failed sale never leaves a partial stock decrement behind.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	resp, err := s.checkout(ctx, req)
	if err != nil {
		s.metrics.RecordCheckoutFailed()
		return domain.CheckoutResponse{}, err
	}
	s.metrics.RecordCheckout()
	return resp, nil
}

func (s *Service) checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CheckoutResponse{}, fmt.Errorf("authenticated user required")
	}

	paymentMethod, ok := normalizePaymentMethod(req.PaymentMethod)
	if !ok {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: método de pago no soportado", store.ErrInvalidInput)
	}
	if req.DiscountAmount < 0 || req.Tax < 0 {
		return domain.CheckoutResponse{}, store.ErrInvalidInput
	}

	items := req.Items
	if len(items) == 0 {
		cart, err := s.repo.GetCartByUser(ctx, actor.Username)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.CheckoutResponse{}, err
		}
		if cart != nil {
			for _, line := range cart.Items {
				items = append(items, domain.CheckoutItem{ProductID: line.ProductID, Quantity: line.Quantity})
			}
		}
	}
	if len(items) == 0 {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: Carrito vacío", store.ErrEmptyCart)
	}

	subtotal := 0.0
	orderLines := make([]domain.OrderLine, 0, len(items))
	claimed := make(map[string]float64, len(items))
	for _, item := range items {
		product, err := s.repo.GetProductByID(ctx, item.ProductID)
		if err != nil {
			return domain.CheckoutResponse{}, err
		}

		quantity := item.Quantity
		if weight.IsWeightBased(*product) && item.WeightKg > 0 {
			quantity = item.WeightKg
		}
		validation := weight.ValidateQuantity(*product, quantity)
		if !validation.Valid {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: %s: %s", store.ErrInvalidInput, product.Name, validation.Message)
		}
		quantity = validation.AdjustedQuantity

		stock := weight.CheckStock(*product, quantity, claimed[product.ID])
		if !stock.HasStock {
			if !product.Active || product.StockQuantity <= 0 {
				return domain.CheckoutResponse{}, fmt.Errorf("%w: %s: %s", store.ErrOutOfStock, product.Name, stock.Message)
			}
			return domain.CheckoutResponse{}, fmt.Errorf("%w: %s: %s", store.ErrInsufficientStock, product.Name, stock.Message)
		}
		claimed[product.ID] += quantity

		lineTotal := weight.Price(product.Price, quantity)
		subtotal = round2(subtotal + lineTotal)
		orderLines = append(orderLines, domain.OrderLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    quantity,
			Unit:        product.Unit,
			UnitPrice:   product.Price,
			LineTotal:   lineTotal,
		})
	}

	if req.DiscountAmount > subtotal {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: el descuento excede el subtotal", store.ErrInvalidInput)
	}

	total := round2(subtotal - req.DiscountAmount + req.Tax)
	if req.Total != nil && math.Abs(total-*req.Total) > totalTolerance {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: El total calculado no coincide con el total enviado", store.ErrInvalidInput)
	}

	order := domain.Order{
		ID:            xid.New("ord"),
		OrderNumber:   fmt.Sprintf("ORD-%d", time.Now().UTC().UnixMilli()),
		CashierID:     actor.Username,
		CustomerID:    strings.TrimSpace(req.ClientID),
		Status:        domain.OrderStatusCompleted,
		PaymentMethod: paymentMethod,
		Subtotal:      subtotal,
		Discount:      round2(req.DiscountAmount),
		Tax:           round2(req.Tax),
		Total:         total,
		CreatedAt:     time.Now().UTC(),
		Items:         orderLines,
	}

	created, err := s.repo.CreateOrder(ctx, order, actor.Username)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	s.logAudit(ctx, "order_completed", "order", created.ID, fmt.Sprintf("number=%s,total=%.2f,payment=%s,items=%d", created.OrderNumber, created.Total, created.PaymentMethod, len(created.Items)))

	return domain.CheckoutResponse{Sale: *created}, nil
}

// RefundSale returns sold quantity back to stock. Each line is capped so the
// cumulative refunded quantity for a product never exceeds what the original
// sale carried.
func (s *Service) RefundSale(ctx context.Context, req domain.RefundRequest) (domain.RefundResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.RefundResponse{}, fmt.Errorf("authenticated user required")
	}

	req.SaleID = strings.TrimSpace(req.SaleID)
	if req.SaleID == "" || len(req.Items) == 0 {
		return domain.RefundResponse{}, store.ErrInvalidInput
	}

	order, err := s.repo.GetOrderByID(ctx, req.SaleID)
	if err != nil {
		return domain.RefundResponse{}, err
	}

	soldByProduct := make(map[string]domain.OrderLine, len(order.Items))
	for _, line := range order.Items {
		current := soldByProduct[line.ProductID]
		current.ProductID = line.ProductID
		current.Quantity += line.Quantity
		current.UnitPrice = line.UnitPrice
		soldByProduct[line.ProductID] = current
	}

	refundedByProduct, err := s.repo.GetRefundedQtyByOrder(ctx, order.ID)
	if err != nil {
		return domain.RefundResponse{}, err
	}

	refundLines := make([]domain.RefundItem, 0, len(req.Items))
	amount := 0.0
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return domain.RefundResponse{}, store.ErrInvalidInput
		}
		sold, exists := soldByProduct[item.ProductID]
		if !exists {
			return domain.RefundResponse{}, fmt.Errorf("%w: el producto no pertenece a la venta", store.ErrInvalidInput)
		}
		if refundedByProduct[item.ProductID]+item.Quantity > sold.Quantity+0.001 {
			return domain.RefundResponse{}, fmt.Errorf("%w: la cantidad excede lo vendido", store.ErrInvalidInput)
		}
		lineSubtotal := weight.Price(sold.UnitPrice, item.Quantity)
		refundLines = append(refundLines, domain.RefundItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: sold.UnitPrice,
			Subtotal:  lineSubtotal,
		})
		amount = round2(amount + lineSubtotal)
	}

	if req.RefundAmount > 0 && req.RefundAmount <= amount+totalTolerance {
		amount = round2(req.RefundAmount)
	}

	refund := domain.Refund{
		ID:          xid.New("ref"),
		OrderID:     order.ID,
		ProcessedBy: actor.Username,
		Reason:      strings.TrimSpace(req.Reason),
		Amount:      amount,
		Status:      domain.RefundStatusCompleted,
		CreatedAt:   time.Now().UTC(),
		Items:       refundLines,
	}

	created, err := s.repo.CreateRefund(ctx, refund)
	if err != nil {
		return domain.RefundResponse{}, err
	}

	s.metrics.RecordRefund()
	s.logAudit(ctx, "refund_processed", "refund", created.ID, fmt.Sprintf("sale=%s,amount=%.2f,items=%d", order.ID, created.Amount, len(created.Items)))

	return domain.RefundResponse{Refund: *created}, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, store.ErrInvalidInput
	}
	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) GetReceipt(ctx context.Context, saleID string) (domain.Receipt, error) {
	order, err := s.GetSale(ctx, saleID)
	if err != nil {
		return domain.Receipt{}, err
	}
	return domain.Receipt{
		SaleID:        order.ID,
		Date:          order.CreatedAt,
		Items:         order.Items,
		Subtotal:      order.Subtotal,
		Discount:      order.Discount,
		Tax:           order.Tax,
		Total:         order.Total,
		PaymentMethod: order.PaymentMethod,
	}, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SalesFilter) (domain.SalesPage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = 20
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}

	orders, total, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		return domain.SalesPage{}, err
	}

	pages := total / int64(filter.Limit)
	if total%int64(filter.Limit) != 0 {
		pages++
	}

	return domain.SalesPage{
		Sales: orders,
		Pagination: domain.Pagination{
			Page:  filter.Page,
			Limit: filter.Limit,
			Total: total,
			Pages: pages,
		},
	}, nil
}

// SalesReport reduces completed sales in the window into totals, payment
// method counts, and revenue buckets. Buckets are hourly for single-day
// windows and daily otherwise; bucketRange forces one or the other.
func (s *Service) SalesReport(ctx context.Context, from time.Time, to time.Time, cashierID string, bucketRange string) (domain.SalesReport, error) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	if from.After(to) {
		return domain.SalesReport{}, store.ErrInvalidInput
	}

	orders, err := s.repo.ListCompletedOrders(ctx, from, to, cashierID)
	if err != nil {
		return domain.SalesReport{}, err
	}

	bucketBy := "day"
	switch strings.ToLower(strings.TrimSpace(bucketRange)) {
	case "day":
		bucketBy = "hour"
	case "week", "month":
		bucketBy = "day"
	default:
		if to.Sub(from) <= 48*time.Hour {
			bucketBy = "hour"
		}
	}

	report := domain.SalesReport{
		Period: domain.ReportPeriod{
			From: from.Format("2006-01-02"),
			To:   to.Format("2006-01-02"),
		},
		Breakdown: domain.ReportBreakdown{
			PaymentMethods: make(map[string]int),
			Buckets:        make(map[string]float64),
			BucketBy:       bucketBy,
		},
	}

	revenue := 0.0
	for _, order := range orders {
		report.Metrics.TotalSales++
		revenue = round2(revenue + order.Total)
		report.Breakdown.PaymentMethods[order.PaymentMethod]++

		var bucket string
		if bucketBy == "hour" {
			bucket = order.CreatedAt.UTC().Format("15:00")
		} else {
			bucket = order.CreatedAt.UTC().Format("2006-01-02")
		}
		report.Breakdown.Buckets[bucket] = round2(report.Breakdown.Buckets[bucket] + order.Total)
	}

	report.Metrics.TotalRevenue = revenue
	if report.Metrics.TotalSales > 0 {
		report.Metrics.AverageTicket = round2(revenue / float64(report.Metrics.TotalSales))
	}

	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidInput
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) buildCartResponse(ctx context.Context, cart *domain.Cart, message string) (domain.CartResponse, error) {
	view := domain.CartView{
		Items: make([]domain.CartLineView, 0, len(cart.Items)),
	}

	for _, line := range cart.Items {
		lineView := domain.CartLineView{CartLine: line}
		if product, err := s.repo.GetProductByID(ctx, line.ProductID); err == nil {
			lineView.Product = product
		}
		view.Items = append(view.Items, lineView)
		view.Summary.TotalItems = roundQty(view.Summary.TotalItems + line.Quantity)
		view.Summary.Subtotal = round2(view.Summary.Subtotal + line.Subtotal)
	}
	view.Summary.Total = round2(view.Summary.Subtotal + view.Summary.Tax)

	return domain.CartResponse{Message: message, Cart: view}, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		ActorID:    actor.Username,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func heldQuantity(items []domain.CartLine, productID string) float64 {
	held := 0.0
	for _, line := range items {
		if line.ProductID == productID {
			held += line.Quantity
		}
	}
	return held
}

// normalizePaymentMethod maps the Spanish register aliases onto the stored
// canonical methods.
func normalizePaymentMethod(method string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "", "cash", "efectivo":
		return "cash", true
	case "card", "tarjeta":
		return "card", true
	case "transfer", "transferencia":
		return "transfer", true
	default:
		return "", false
	}
}

func scanCacheKey(barcode string) string {
	return "product:barcode:" + barcode
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func roundQty(value float64) float64 {
	return math.Round(value*1000) / 1000
}
