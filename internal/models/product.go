package models

// Price is a monetary amount in micros (1,000,000 micros = 1 unit of the
// currency), matching how prices are stored upstream in the CRM.
type Price struct {
	AmountMicros int64  `json:"amount_micros"`
	CurrencyCode string `json:"currency_code"`
}

// Amount returns the price in whole currency units.
func (p Price) Amount() float64 {
	return float64(p.AmountMicros) / 1_000_000
}

// Product is an immutable snapshot of one featured product, supplied by the
// session configuration and used only for classification context.
type Product struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Price        Price  `json:"price"`
	PurchaseLink string `json:"purchase_link"`
}
