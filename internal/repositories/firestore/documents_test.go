package firestore

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/vintage-storefront/api/internal/domain"
)

func TestProductDocumentToDomain(t *testing.T) {
	start := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 10, 31, 0, 0, 0, 0, time.UTC)
	discount := "40.00"
	doc := productDocument{
		Name:              " Teak sideboard ",
		Price:             "50.00",
		Currency:          "eur",
		DiscountPrice:     &discount,
		DiscountStartDate: &start,
		DiscountEndDate:   &end,
		WeightGrams:       12000,
		FreeShipping:      true,
		Published:         true,
	}

	product, err := doc.toDomain("prod-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product.Name != "Teak sideboard" || product.Currency != domain.BaseCurrency {
		t.Fatalf("unexpected product %+v", product)
	}
	if !product.Price.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("expected price 50, got %s", product.Price)
	}
	if product.Discount == nil || !product.Discount.Price.Equal(decimal.RequireFromString("40")) {
		t.Fatalf("expected discount 40, got %+v", product.Discount)
	}
	if !product.Discount.StartsAt.Equal(start) || !product.Discount.EndsAt.Equal(end) {
		t.Fatalf("unexpected discount window %+v", product.Discount)
	}
}

func TestProductDocumentRejectsForeignCurrency(t *testing.T) {
	doc := productDocument{Price: "10", Currency: "USD", Published: true}
	if _, err := doc.toDomain("prod-usd"); err == nil {
		t.Fatalf("expected error for non-base currency")
	}
}

func TestProductDocumentRejectsMalformedPrice(t *testing.T) {
	doc := productDocument{Price: "ten", Published: true}
	if _, err := doc.toDomain("prod-bad"); err == nil {
		t.Fatalf("expected error for malformed price")
	}
}

func TestLineItemsRoundTripThroughDocuments(t *testing.T) {
	start := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	added := time.Date(2024, 10, 10, 12, 0, 0, 0, time.UTC)
	items := []domain.CartLineItem{
		{
			ID:          "01HZX",
			ProductID:   "prod-1",
			Name:        "Lamp",
			UnitPrice:   decimal.RequireFromString("19.99"),
			Discount:    &domain.DiscountWindow{Price: decimal.RequireFromString("14.99"), StartsAt: &start},
			WeightGrams: 800,
			AddedAt:     added,
		},
		{
			ID:           "01HZY",
			ProductID:    "prod-2",
			Name:         "Print",
			UnitPrice:    decimal.RequireFromString("35"),
			FreeShipping: true,
			AddedAt:      added,
		},
	}

	decoded, err := decodeLineItems(encodeLineItems(items))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 items, got %d", len(decoded))
	}
	if !decoded[0].UnitPrice.Equal(items[0].UnitPrice) || decoded[0].Discount == nil {
		t.Fatalf("unexpected first item %+v", decoded[0])
	}
	if decoded[0].Discount.EndsAt != nil {
		t.Fatalf("expected open-ended discount, got %v", decoded[0].Discount.EndsAt)
	}
	if decoded[1].Discount != nil || !decoded[1].FreeShipping {
		t.Fatalf("unexpected second item %+v", decoded[1])
	}
}
