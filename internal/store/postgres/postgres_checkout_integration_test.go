package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"laeconomica/backend/internal/domain"
	"laeconomica/backend/internal/store"
)

func TestCreateOrderDecrementsStock(t *testing.T) {
	databaseURL := os.Getenv("LAECONOMICA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set LAECONOMICA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	product, err := s.CreateProduct(ctx, domain.Product{
		Barcode:       fmt.Sprintf("750%d", stamp),
		SKU:           fmt.Sprintf("SKU-IT-%d", stamp),
		Name:          "Producto integración",
		Category:      "pruebas",
		Price:         10,
		Unit:          domain.UnitPiece,
		StockQuantity: 5,
		Active:        true,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	order := domain.Order{
		OrderNumber:   fmt.Sprintf("ORD-IT-%d", stamp),
		CashierID:     "integration",
		Status:        domain.OrderStatusCompleted,
		PaymentMethod: "cash",
		Subtotal:      20,
		Total:         20,
		Items: []domain.OrderLine{{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    2,
			Unit:        product.Unit,
			UnitPrice:   10,
			LineTotal:   20,
		}},
	}

	created, err := s.CreateOrder(ctx, order, "")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	fresh, err := s.GetProductByID(ctx, product.ID)
	if err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if fresh.StockQuantity != 3 {
		t.Fatalf("stock after checkout = %v, want 3", fresh.StockQuantity)
	}

	// Oversized order must fail atomically and leave stock untouched.
	order.OrderNumber = fmt.Sprintf("ORD-IT-%d-b", stamp)
	order.ID = ""
	order.Items[0].Quantity = 99
	if _, err := s.CreateOrder(ctx, order, ""); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("oversell error = %v, want ErrInsufficientStock", err)
	}
	fresh, err = s.GetProductByID(ctx, product.ID)
	if err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if fresh.StockQuantity != 3 {
		t.Fatalf("stock after failed checkout = %v, want 3", fresh.StockQuantity)
	}

	refund := domain.Refund{
		OrderID:     created.ID,
		ProcessedBy: "integration",
		Reason:      "producto dañado",
		Amount:      10,
		Items: []domain.RefundItem{{
			ProductID: product.ID,
			Quantity:  1,
			UnitPrice: 10,
			Subtotal:  10,
		}},
	}
	if _, err := s.CreateRefund(ctx, refund); err != nil {
		t.Fatalf("create refund: %v", err)
	}
	fresh, err = s.GetProductByID(ctx, product.ID)
	if err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if fresh.StockQuantity != 4 {
		t.Fatalf("stock after refund = %v, want 4", fresh.StockQuantity)
	}
}
