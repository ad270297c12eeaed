package checkout

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/printshop/internal/catalog"
	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

// LineRequest — позиция корзины от клиента. Цена клиента не принимается.
type LineRequest struct {
	ProductID string `json:"productId"`
	Variant   string `json:"variant"`
	Quantity  int32  `json:"quantity"`
}

// priceLines сопоставляет позиции корзины с каталогом.
func priceLines(cat *catalog.Catalog, lines []LineRequest) ([]domain.OrderItem, bool, error) {
	if len(lines) == 0 {
		return nil, false, domain.NewValidationError("items", domain.ErrItemsRequired)
	}

	items := make([]domain.OrderItem, 0, len(lines))
	physical := false
	for i, line := range lines {
		if line.Quantity <= 0 {
			return nil, false, domain.NewValidationError(fieldName(i, "quantity"), domain.ErrItemQtyInvalid)
		}
		entry, ok := cat.Lookup(strings.TrimSpace(line.ProductID), strings.TrimSpace(line.Variant))
		if !ok {
			return nil, false, domain.NewValidationError(fieldName(i, "productId"), domain.ErrProductUnknown)
		}
		if !entry.Digital {
			physical = true
		}
		items = append(items, domain.OrderItem{
			ProductID:      entry.ProductID,
			Variant:        entry.Variant,
			Name:           entry.Name,
			Quantity:       line.Quantity,
			UnitPriceMinor: entry.PriceMinor,
		})
	}
	return items, physical, nil
}

func fieldName(index int, field string) string {
	return fmt.Sprintf("items[%d].%s", index, field)
}

// computeTotals считает subtotal, доставку и скидку. Скидка берётся процентом от subtotal,
// округлённый до цента половиной от нуля, и не превышает subtotal.
func computeTotals(items []domain.OrderItem, shippingMinor int64, percentOff int32) domain.Totals {
	var subtotal int64
	for _, item := range items {
		subtotal += item.LineTotalMinor()
	}

	var discount int64
	if percentOff > 0 {
		discount = decimal.NewFromInt(subtotal).
			Mul(decimal.NewFromInt32(percentOff)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
		if discount > subtotal {
			discount = subtotal
		}
	}

	return domain.Totals{
		SubtotalMinor: subtotal,
		ShippingMinor: shippingMinor,
		DiscountMinor: discount,
		TotalMinor:    subtotal + shippingMinor - discount,
	}
}
