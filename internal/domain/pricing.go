package domain

import "github.com/shopspring/decimal"

// Tariff prices a wagon category / cargo type combination.
type Tariff struct {
	Category      WagonCategory   `json:"category"`
	CargoType     CargoType       `json:"cargo_type"`
	BaseRatePerKm decimal.Decimal `json:"base_rate_per_km"`
	Coefficient   decimal.Decimal `json:"coefficient"`
	MinPrice      decimal.Decimal `json:"min_price"`
}

// StationDistance is one leg of the inter-station distance table. Lookups are
// direction-agnostic.
type StationDistance struct {
	FromStation string `json:"from_station"`
	ToStation   string `json:"to_station"`
	DistanceKm  int    `json:"distance_km"`
}
