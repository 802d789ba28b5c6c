package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"laeconomica/backend/internal/domain"
	"laeconomica/backend/internal/store"
	"laeconomica/backend/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.NewSeeded(), nil, nil, time.Minute)
}

func cashierCtx(username string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: username, Role: "cashier"})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func TestAddItemThenCheckout(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja1")

	resp, err := svc.AddCartItem(ctx, domain.AddItemRequest{ProductID: "prod-coca-600", Quantity: 2})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if resp.Message != "Producto agregado al carrito" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
	if resp.Cart.Summary.Subtotal != 37.00 {
		t.Fatalf("subtotal = %v, want 37.00", resp.Cart.Summary.Subtotal)
	}

	out, err := svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "cash"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if out.Sale.Subtotal != 37.00 || out.Sale.Total != 37.00 {
		t.Fatalf("sale totals = %v/%v, want 37.00", out.Sale.Subtotal, out.Sale.Total)
	}
	if !strings.HasPrefix(out.Sale.OrderNumber, "ORD-") {
		t.Fatalf("order number = %q", out.Sale.OrderNumber)
	}
	if out.Sale.Status != domain.OrderStatusCompleted {
		t.Fatalf("status = %q", out.Sale.Status)
	}

	product, err := svc.repo.GetProductByID(ctx, "prod-coca-600")
	if err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if product.StockQuantity != 46 {
		t.Fatalf("stock after checkout = %v, want 46", product.StockQuantity)
	}

	current, err := svc.CurrentCart(ctx)
	if err != nil {
		t.Fatalf("current cart: %v", err)
	}
	if len(current.Cart.Items) != 0 {
		t.Fatalf("cart not cleared after checkout: %d items", len(current.Cart.Items))
	}
}

func TestAddWeightItem(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja1")

	resp, err := svc.AddCartItem(ctx, domain.AddItemRequest{ProductID: "prod-tomate", WeightKg: 0.5})
	if err != nil {
		t.Fatalf("add weight item: %v", err)
	}
	if resp.Cart.Summary.Subtotal != 16.00 {
		t.Fatalf("subtotal = %v, want 16.00", resp.Cart.Summary.Subtotal)
	}
}

func TestAddItemRejectsFractionalPieces(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja1")

	_, err := svc.AddCartItem(ctx, domain.AddItemRequest{ProductID: "prod-coca-600", Quantity: 2.5})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
	if !strings.Contains(err.Error(), "número entero") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestAddItemInsufficientStock(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja1")

	// prod-pan-blanco seeds with 18 in stock.
	if _, err := svc.AddCartItem(ctx, domain.AddItemRequest{ProductID: "prod-pan-blanco", Quantity: 10}); err != nil {
		t.Fatalf("first add: %v", err)
	}

	_, err := svc.AddCartItem(ctx, domain.AddItemRequest{ProductID: "prod-pan-blanco", Quantity: 10})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("error = %v, want ErrInsufficientStock", err)
	}
	if !strings.Contains(err.Error(), "Stock insuficiente. Disponible: 8") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestCheckoutRejectsRepeatedItemLines(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja1")

	// prod-pan-blanco seeds with 18 in stock; each line fits on its own but
	// together they oversell.
	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		PaymentMethod: "cash",
		Items: []domain.CheckoutItem{
			{ProductID: "prod-pan-blanco", Quantity: 10},
			{ProductID: "prod-pan-blanco", Quantity: 10},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("error = %v, want ErrInsufficientStock", err)
	}

	product, err := svc.repo.GetProductByID(ctx, "prod-pan-blanco")
	if err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if product.StockQuantity != 18 {
		t.Fatalf("stock = %v, want untouched 18", product.StockQuantity)
	}
}

func TestCheckoutExplicitWeightItems(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja1")

	// For weight products the weight_kg field wins over quantity.
	out, err := svc.Checkout(ctx, domain.CheckoutRequest{
		PaymentMethod: "cash",
		Items: []domain.CheckoutItem{
			{ProductID: "prod-tomate", Quantity: 1, WeightKg: 0.5},
		},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if len(out.Sale.Items) != 1 || out.Sale.Items[0].Quantity != 0.5 {
		t.Fatalf("sale items = %+v, want one line of 0.5", out.Sale.Items)
	}
	if out.Sale.Total != 16.00 {
		t.Fatalf("total = %v, want 16.00", out.Sale.Total)
	}

	product, err := svc.repo.GetProductByID(ctx, "prod-tomate")
	if err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if product.StockQuantity != 25.0 {
		t.Fatalf("stock = %v, want 25.0", product.StockQuantity)
	}
}

func TestCheckoutEmptyCart(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja-vacia")

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "cash"})
	if !errors.Is(err, store.ErrEmptyCart) {
		t.Fatalf("error = %v, want ErrEmptyCart", err)
	}
	if !strings.Contains(err.Error(), "Carrito vacío") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestCheckoutTotalMismatch(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja1")

	if _, err := svc.AddCartItem(ctx, domain.AddItemRequest{ProductID: "prod-coca-600", Quantity: 1}); err != nil {
		t.Fatalf("add item: %v", err)
	}

	wrong := 999.0
	_, err := svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "cash", Total: &wrong})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
	if !strings.Contains(err.Error(), "no coincide") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestCheckoutPaymentAliases(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja1")

	if _, err := svc.AddCartItem(ctx, domain.AddItemRequest{ProductID: "prod-coca-600", Quantity: 1}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	out, err := svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "tarjeta"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if out.Sale.PaymentMethod != "card" {
		t.Fatalf("payment method = %q, want card", out.Sale.PaymentMethod)
	}

	_, err = svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "cheque", Items: []domain.CheckoutItem{{ProductID: "prod-coca-600", Quantity: 1}}})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("unsupported method error = %v", err)
	}
}

func TestCheckoutDiscountAndTax(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja1")

	// 2 x 18.50 = 37.00; 37.00 - 5.00 + 2.96 = 34.96
	if _, err := svc.AddCartItem(ctx, domain.AddItemRequest{ProductID: "prod-coca-600", Quantity: 2}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	expected := 34.96
	out, err := svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "cash", DiscountAmount: 5, Tax: 2.96, Total: &expected})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if out.Sale.Total != 34.96 {
		t.Fatalf("total = %v, want 34.96", out.Sale.Total)
	}
}

func TestRefundRestoresStockAndCapsQuantity(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja1")

	if _, err := svc.AddCartItem(ctx, domain.AddItemRequest{ProductID: "prod-coca-600", Quantity: 2}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	out, err := svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "cash"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	refund, err := svc.RefundSale(ctx, domain.RefundRequest{
		SaleID: out.Sale.ID,
		Items:  []domain.RefundItem{{ProductID: "prod-coca-600", Quantity: 1}},
		Reason: "producto dañado",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refund.Refund.Amount != 18.50 {
		t.Fatalf("refund amount = %v, want 18.50", refund.Refund.Amount)
	}

	product, err := svc.repo.GetProductByID(ctx, "prod-coca-600")
	if err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if product.StockQuantity != 47 {
		t.Fatalf("stock after refund = %v, want 47", product.StockQuantity)
	}

	// Only one unit remains refundable.
	_, err = svc.RefundSale(ctx, domain.RefundRequest{
		SaleID: out.Sale.ID,
		Items:  []domain.RefundItem{{ProductID: "prod-coca-600", Quantity: 2}},
		Reason: "otra vez",
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("over-refund error = %v, want ErrInvalidInput", err)
	}
}

func TestRefundRejectsForeignProduct(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja1")

	if _, err := svc.AddCartItem(ctx, domain.AddItemRequest{ProductID: "prod-coca-600", Quantity: 1}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	out, err := svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "cash"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	_, err = svc.RefundSale(ctx, domain.RefundRequest{
		SaleID: out.Sale.ID,
		Items:  []domain.RefundItem{{ProductID: "prod-leche-1l", Quantity: 1}},
		Reason: "no corresponde",
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
}

func TestUpdateAndRemoveCartItem(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja1")

	if _, err := svc.AddCartItem(ctx, domain.AddItemRequest{ProductID: "prod-coca-600", Quantity: 1}); err != nil {
		t.Fatalf("add item: %v", err)
	}

	resp, err := svc.UpdateCartItem(ctx, "prod-coca-600", domain.UpdateItemRequest{Quantity: 3})
	if err != nil {
		t.Fatalf("update item: %v", err)
	}
	if resp.Cart.Summary.TotalItems != 3 {
		t.Fatalf("total items = %v, want 3", resp.Cart.Summary.TotalItems)
	}

	resp, err = svc.RemoveCartItem(ctx, "prod-coca-600")
	if err != nil {
		t.Fatalf("remove item: %v", err)
	}
	if len(resp.Cart.Items) != 0 {
		t.Fatalf("cart still has %d items", len(resp.Cart.Items))
	}

	if _, err := svc.RemoveCartItem(ctx, "prod-coca-600"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("remove missing line error = %v, want ErrNotFound", err)
	}
}

func TestScan(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja1")

	resp, err := svc.Scan(ctx, domain.ScanRequest{Barcode: "7501055300891"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if resp.Message != "Producto encontrado" || resp.Product.ID != "prod-coca-600" {
		t.Fatalf("unexpected scan response: %+v", resp)
	}

	if _, err := svc.Scan(ctx, domain.ScanRequest{Barcode: "0000000000000"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown barcode error = %v, want ErrNotFound", err)
	}

	if _, err := svc.Scan(ctx, domain.ScanRequest{}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("empty scan error = %v, want ErrInvalidInput", err)
	}
}

func TestScanInactiveProduct(t *testing.T) {
	svc := newTestService()
	admin := adminCtx()

	inactive := false
	if _, err := svc.UpdateProduct(admin, "prod-jabon", domain.ProductUpdateRequest{Active: &inactive}); err != nil {
		t.Fatalf("deactivate product: %v", err)
	}

	_, err := svc.Scan(cashierCtx("caja1"), domain.ScanRequest{ProductID: "prod-jabon"})
	if !errors.Is(err, store.ErrOutOfStock) {
		t.Fatalf("error = %v, want ErrOutOfStock", err)
	}
	if !strings.Contains(err.Error(), "Producto agotado") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestProductAdminGate(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateProduct(cashierCtx("caja1"), domain.ProductCreateRequest{Barcode: "123", Name: "Nuevo"})
	if err == nil || !strings.Contains(err.Error(), "admin role required") {
		t.Fatalf("cashier create error = %v", err)
	}

	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Barcode:      "7509999999990",
		SKU:          "aba-arroz-1kg",
		Name:         "Arroz 1kg",
		Category:     "abarrotes",
		Price:        34.50,
		InitialStock: 20,
	})
	if err != nil {
		t.Fatalf("admin create: %v", err)
	}
	if created.SKU != "ABA-ARROZ-1KG" || !created.Active {
		t.Fatalf("created product: %+v", created)
	}
}

func TestListSalesPagination(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja1")

	for i := 0; i < 3; i++ {
		if _, err := svc.AddCartItem(ctx, domain.AddItemRequest{ProductID: "prod-coca-600", Quantity: 1}); err != nil {
			t.Fatalf("add item: %v", err)
		}
		if _, err := svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "cash"}); err != nil {
			t.Fatalf("checkout %d: %v", i, err)
		}
	}

	page, err := svc.ListSales(ctx, domain.SalesFilter{Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(page.Sales) != 2 || page.Pagination.Total != 3 || page.Pagination.Pages != 2 {
		t.Fatalf("pagination: %+v", page.Pagination)
	}
}

func TestSalesReport(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja1")

	if _, err := svc.AddCartItem(ctx, domain.AddItemRequest{ProductID: "prod-coca-600", Quantity: 2}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "cash"}); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := svc.AddCartItem(ctx, domain.AddItemRequest{ProductID: "prod-leche-1l", Quantity: 1}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "tarjeta"}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	report, err := svc.SalesReport(ctx, time.Time{}, time.Time{}, "", "day")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Metrics.TotalSales != 2 {
		t.Fatalf("total sales = %d, want 2", report.Metrics.TotalSales)
	}
	if report.Metrics.TotalRevenue != 63.00 {
		t.Fatalf("revenue = %v, want 63.00", report.Metrics.TotalRevenue)
	}
	if report.Metrics.AverageTicket != 31.50 {
		t.Fatalf("average ticket = %v, want 31.50", report.Metrics.AverageTicket)
	}
	if report.Breakdown.PaymentMethods["cash"] != 1 || report.Breakdown.PaymentMethods["card"] != 1 {
		t.Fatalf("payment breakdown: %+v", report.Breakdown.PaymentMethods)
	}
	if report.Breakdown.BucketBy != "hour" {
		t.Fatalf("bucket by = %q, want hour", report.Breakdown.BucketBy)
	}
	hour := time.Now().UTC().Format("15:00")
	if report.Breakdown.Buckets[hour] != 63.00 {
		t.Fatalf("bucket %s = %v, want 63.00", hour, report.Breakdown.Buckets[hour])
	}
}

func TestGetReceipt(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja1")

	if _, err := svc.AddCartItem(ctx, domain.AddItemRequest{ProductID: "prod-coca-600", Quantity: 1}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	out, err := svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "cash"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	receipt, err := svc.GetReceipt(ctx, out.Sale.ID)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if receipt.SaleID != out.Sale.ID || receipt.Total != out.Sale.Total || len(receipt.Items) != 1 {
		t.Fatalf("receipt: %+v", receipt)
	}
}

func TestAuditTrail(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx("caja1")

	if _, err := svc.AddCartItem(ctx, domain.AddItemRequest{ProductID: "prod-coca-600", Quantity: 1}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "cash"}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, "", 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == "order_completed" && entry.ActorID == "caja1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("order_completed audit entry missing: %+v", logs)
	}
}
