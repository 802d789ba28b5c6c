package store

import (
	"context"
	"errors"
	"time"

	"laeconomica/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrOutOfStock        = errors.New("out of stock")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
	ErrVersionConflict   = errors.New("version conflict")
	ErrEmptyCart         = errors.New("empty cart")
)

type Repository interface {
	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	EnsureCart(ctx context.Context, userID string) (*domain.Cart, error)
	GetCartByUser(ctx context.Context, userID string) (*domain.Cart, error)
	SaveCart(ctx context.Context, cart domain.Cart, expectedVersion int64) (*domain.Cart, error)
	CreateOrder(ctx context.Context, order domain.Order, clearCartUserID string) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.SalesFilter) ([]domain.Order, int64, error)
	ListCompletedOrders(ctx context.Context, from time.Time, to time.Time, cashierID string) ([]domain.Order, error)
	CreateRefund(ctx context.Context, refund domain.Refund) (*domain.Refund, error)
	GetRefundedQtyByOrder(ctx context.Context, orderID string) (map[string]float64, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
