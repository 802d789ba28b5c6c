package weight

import (
	"fmt"
	"math"

	"laeconomica/backend/internal/domain"
)

// epsilon absorbs binary floating-point noise when comparing quantities
// against step multiples.
const epsilon = 0.001

// Calculation describes how quantities behave for one product: whether it is
// sold by weight, the minimum valid increment, and how quantities are shown.
type Calculation struct {
	IsWeightBased bool
	Step          float64
	BaseUnit      string
	DisplayUnit   string
	MaxQuantity   float64
}

// Result of validating a requested quantity. When Valid is false,
// AdjustedQuantity holds the nearest acceptable value and Message a
// human-readable explanation.
type Result struct {
	Valid            bool
	AdjustedQuantity float64
	Message          string
}

// StockResult of checking a requested quantity against available inventory.
// AvailableQuantity is the most the caller could still take.
type StockResult struct {
	HasStock          bool
	AvailableQuantity float64
	Message           string
}

// IsWeightBased reports whether the product is sold by a continuous quantity.
func IsWeightBased(p domain.Product) bool {
	return p.SellByWeight || p.Unit == domain.UnitKilo || p.Unit == domain.UnitGram || p.Unit == domain.UnitLiter
}

// ForProduct derives the quantity rules for a product.
func ForProduct(p domain.Product) Calculation {
	if !IsWeightBased(p) {
		return Calculation{
			IsWeightBased: false,
			Step:          1,
			BaseUnit:      domain.UnitKilo,
			DisplayUnit:   p.Unit,
			MaxQuantity:   p.MaxQuantity,
		}
	}

	calc := Calculation{
		IsWeightBased: true,
		Step:          0.1,
		BaseUnit:      domain.UnitKilo,
		DisplayUnit:   p.Unit,
		MaxQuantity:   p.MaxQuantity,
	}

	switch p.Unit {
	case domain.UnitKilo:
		calc.Step = 0.1
		calc.BaseUnit = domain.UnitKilo
	case domain.UnitGram:
		calc.Step = 100
		calc.BaseUnit = domain.UnitGram
		calc.DisplayUnit = "g"
	case domain.UnitLiter:
		calc.Step = 0.1
		calc.BaseUnit = domain.UnitLiter
	}

	return calc
}

// FormatQuantity renders a quantity with its unit the way receipts and error
// messages show it: sub-kilo weights in grams, kilo-scale gram amounts in kg,
// sub-liter volumes in ml.
func FormatQuantity(quantity float64, unit string) string {
	switch unit {
	case domain.UnitKilo:
		if quantity < 1 {
			return fmt.Sprintf("%dg", int(math.Round(quantity*1000)))
		}
		return trimFloat(quantity) + "kg"
	case domain.UnitGram, "g":
		if quantity >= 1000 {
			return fmt.Sprintf("%.1fkg", quantity/1000)
		}
		return fmt.Sprintf("%dg", int(math.Round(quantity)))
	case domain.UnitLiter:
		if quantity < 1 {
			return fmt.Sprintf("%dml", int(math.Round(quantity*1000)))
		}
		return trimFloat(quantity) + "L"
	default:
		return fmt.Sprintf("%s %s", trimFloat(quantity), unit)
	}
}

// ValidateQuantity checks a requested quantity against the product's unit
// rules. Discrete products require whole numbers (adjusted down); weight
// products require at least one step and alignment to the nearest multiple
// of the step. A MaxQuantity above zero clamps oversized requests.
func ValidateQuantity(p domain.Product, quantity float64) Result {
	calc := ForProduct(p)

	if !calc.IsWeightBased {
		if quantity < 1 {
			return Result{
				Valid:            false,
				AdjustedQuantity: 1,
				Message:          "Cantidad mínima: 1",
			}
		}
		if quantity != math.Floor(quantity) {
			return Result{
				Valid:            false,
				AdjustedQuantity: math.Floor(quantity),
				Message:          "La cantidad debe ser un número entero",
			}
		}
		if calc.MaxQuantity > 0 && quantity > calc.MaxQuantity {
			return Result{
				Valid:            false,
				AdjustedQuantity: calc.MaxQuantity,
				Message:          fmt.Sprintf("Cantidad máxima: %s", FormatQuantity(calc.MaxQuantity, p.Unit)),
			}
		}
		return Result{Valid: true, AdjustedQuantity: quantity}
	}

	if quantity < calc.Step {
		return Result{
			Valid:            false,
			AdjustedQuantity: calc.Step,
			Message:          fmt.Sprintf("Cantidad mínima: %s", FormatQuantity(calc.Step, p.Unit)),
		}
	}

	// Round to the nearest multiple of the step, not up or down.
	adjusted := math.Round(quantity/calc.Step) * calc.Step
	adjusted = roundQuantity(adjusted)
	if math.Abs(quantity-adjusted) > epsilon {
		return Result{
			Valid:            false,
			AdjustedQuantity: adjusted,
			Message:          fmt.Sprintf("Cantidad ajustada a: %s", FormatQuantity(adjusted, p.Unit)),
		}
	}

	if calc.MaxQuantity > 0 && quantity > calc.MaxQuantity+epsilon {
		return Result{
			Valid:            false,
			AdjustedQuantity: calc.MaxQuantity,
			Message:          fmt.Sprintf("Cantidad máxima: %s", FormatQuantity(calc.MaxQuantity, p.Unit)),
		}
	}

	return Result{Valid: true, AdjustedQuantity: adjusted}
}

// Price is the cost of a given quantity. Prices are per unit of sale with no
// tiers, so this is a plain multiplication rounded to cents.
func Price(unitPrice float64, quantity float64) float64 {
	return math.Round(unitPrice*quantity*100) / 100
}

// CheckStock reports whether requested plus held quantity fits within the
// product's available stock. Inactive and zero-stock products always fail
// with a distinct out-of-stock message.
func CheckStock(p domain.Product, requested float64, held float64) StockResult {
	if !p.Active || p.StockQuantity <= 0 {
		return StockResult{
			HasStock:          false,
			AvailableQuantity: 0,
			Message:           "Producto agotado",
		}
	}

	if requested+held > p.StockQuantity+epsilon {
		available := p.StockQuantity - held
		if available < 0 {
			available = 0
		}
		available = roundQuantity(available)
		return StockResult{
			HasStock:          false,
			AvailableQuantity: available,
			Message:           fmt.Sprintf("Stock insuficiente. Disponible: %s", FormatQuantity(available, p.Unit)),
		}
	}

	return StockResult{HasStock: true, AvailableQuantity: p.StockQuantity}
}

// roundQuantity trims accumulated floating-point noise to three decimals,
// matching the comparison epsilon.
func roundQuantity(quantity float64) float64 {
	return math.Round(quantity*1000) / 1000
}

func trimFloat(value float64) string {
	formatted := fmt.Sprintf("%g", math.Round(value*1000)/1000)
	return formatted
}
