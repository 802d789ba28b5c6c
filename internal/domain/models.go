package domain

import "time"

// Unit of sale for a product. Anything other than the weight units is
// treated as a discrete piece unit.
const (
	UnitPiece = "pieza"
	UnitKilo  = "kg"
	UnitGram  = "gramo"
	UnitLiter = "litro"
)

const (
	OrderStatusCompleted = "completed"
	OrderStatusPending   = "pending"

	RefundStatusCompleted = "completed"
)

type Product struct {
	ID            string  `json:"id"`
	Barcode       string  `json:"barcode"`
	SKU           string  `json:"sku"`
	Name          string  `json:"name"`
	Category      string  `json:"category"`
	Price         float64 `json:"price"`
	Unit          string  `json:"unit"`
	SellByWeight  bool    `json:"sell_by_weight"`
	StockQuantity float64 `json:"stock_quantity"`
	MaxQuantity   float64 `json:"max_quantity,omitempty"`
	Active        bool    `json:"is_active"`
}

type ProductCreateRequest struct {
	Barcode      string  `json:"barcode"`
	SKU          string  `json:"sku"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	Price        float64 `json:"price"`
	Unit         string  `json:"unit"`
	SellByWeight bool    `json:"sell_by_weight"`
	InitialStock float64 `json:"initial_stock"`
	MaxQuantity  float64 `json:"max_quantity"`
}

type ProductUpdateRequest struct {
	Name          *string  `json:"name,omitempty"`
	Category      *string  `json:"category,omitempty"`
	Price         *float64 `json:"price,omitempty"`
	StockQuantity *float64 `json:"stock_quantity,omitempty"`
	MaxQuantity   *float64 `json:"max_quantity,omitempty"`
	Active        *bool    `json:"is_active,omitempty"`
}

type ScanRequest struct {
	Barcode   string `json:"barcode,omitempty"`
	SKU       string `json:"sku,omitempty"`
	ProductID string `json:"product_id,omitempty"`
}

type ScanResponse struct {
	Message string  `json:"message"`
	Product Product `json:"product"`
}

// CartLine is one entry of a persisted cart. UnitPrice is a snapshot taken
// when the line was added; checkout re-reads live prices.
type CartLine struct {
	ProductID string  `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Subtotal  float64 `json:"subtotal"`
}

// Cart is the per-user pre-order line collection. Version increments on
// every successful save and guards concurrent read-modify-write cycles.
type Cart struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Items     []CartLine `json:"items"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CartSummary struct {
	TotalItems float64 `json:"total_items"`
	Subtotal   float64 `json:"subtotal"`
	Tax        float64 `json:"tax"`
	Total      float64 `json:"total"`
}

type CartLineView struct {
	CartLine
	Product *Product `json:"product,omitempty"`
}

type CartView struct {
	Items   []CartLineView `json:"items"`
	Summary CartSummary    `json:"summary"`
}

type CartResponse struct {
	Message string   `json:"message,omitempty"`
	Cart    CartView `json:"cart"`
}

type AddItemRequest struct {
	ProductID string  `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	WeightKg  float64 `json:"weight_kg,omitempty"`
	UnitPrice float64 `json:"unit_price,omitempty"`
}

type UpdateItemRequest struct {
	Quantity float64 `json:"quantity"`
	WeightKg float64 `json:"weight_kg,omitempty"`
}

type CheckoutItem struct {
	ProductID string  `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	WeightKg  float64 `json:"weight_kg,omitempty"`
}

type CheckoutRequest struct {
	PaymentMethod  string         `json:"payment_method"`
	DiscountAmount float64        `json:"discount_amount"`
	Tax            float64        `json:"tax"`
	Total          *float64       `json:"total,omitempty"`
	ClientID       string         `json:"client_id,omitempty"`
	Items          []CheckoutItem `json:"items,omitempty"`
}

type OrderLine struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"total_price"`
}

// Order is immutable once created.
type Order struct {
	ID            string      `json:"id"`
	OrderNumber   string      `json:"order_number"`
	CashierID     string      `json:"cashier_id"`
	CustomerID    string      `json:"customer_id,omitempty"`
	Status        string      `json:"status"`
	PaymentMethod string      `json:"payment_method"`
	Subtotal      float64     `json:"subtotal"`
	Discount      float64     `json:"discount"`
	Tax           float64     `json:"tax"`
	Total         float64     `json:"total"`
	CreatedAt     time.Time   `json:"created_at"`
	Items         []OrderLine `json:"items"`
}

type CheckoutResponse struct {
	Sale Order `json:"sale"`
}

type RefundItem struct {
	ProductID string  `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Subtotal  float64 `json:"subtotal"`
}

type RefundRequest struct {
	SaleID       string       `json:"sale_id"`
	Items        []RefundItem `json:"items"`
	Reason       string       `json:"reason"`
	RefundAmount float64      `json:"refund_amount,omitempty"`
}

type Refund struct {
	ID          string       `json:"id"`
	OrderID     string       `json:"original_sale_id"`
	ProcessedBy string       `json:"processed_by"`
	Reason      string       `json:"reason"`
	Amount      float64      `json:"refund_amount"`
	Status      string       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	Items       []RefundItem `json:"items"`
}

type RefundResponse struct {
	Refund Refund `json:"refund"`
}

type Receipt struct {
	SaleID        string      `json:"sale_id"`
	Date          time.Time   `json:"date"`
	Items         []OrderLine `json:"items"`
	Subtotal      float64     `json:"subtotal"`
	Discount      float64     `json:"discount"`
	Tax           float64     `json:"tax"`
	Total         float64     `json:"total"`
	PaymentMethod string      `json:"payment_method"`
}

type SalesFilter struct {
	Page      int
	Limit     int
	FromDate  time.Time
	ToDate    time.Time
	CashierID string
}

type SalesPage struct {
	Sales      []Order    `json:"sales"`
	Pagination Pagination `json:"pagination"`
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

type ReportPeriod struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

type ReportMetrics struct {
	TotalSales    int     `json:"total_sales"`
	TotalRevenue  float64 `json:"total_revenue"`
	AverageTicket float64 `json:"average_ticket"`
}

type ReportBreakdown struct {
	PaymentMethods map[string]int     `json:"payment_methods"`
	Buckets        map[string]float64 `json:"buckets"`
	BucketBy       string             `json:"bucket_by"`
}

type SalesReport struct {
	Period    ReportPeriod    `json:"period"`
	Metrics   ReportMetrics   `json:"metrics"`
	Breakdown ReportBreakdown `json:"breakdown"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
