// Package bitget contains the venue-facing clients: the REST catalog client
// and the streaming market-data session.
package bitget

import (
	"fmt"
	"strings"

	"bitget-radar/configs"
)

// Markets supported by the venue, in the application's category naming.
const (
	MarketSpot  = "spot"
	MarketUSDTM = "usdtm"
	MarketCoinM = "coinm"
	MarketUSDCM = "usdcm"
)

// productTypes maps a futures market category to the venue productType
// query parameter.
var productTypes = map[string]string{
	MarketUSDTM: "USDT-FUTURES",
	MarketCoinM: "COIN-FUTURES",
	MarketUSDCM: "USDC-FUTURES",
}

// ProductType returns the venue productType for a futures market category.
func ProductType(market string) (string, error) {
	pt, ok := productTypes[market]
	if !ok {
		return "", fmt.Errorf("market %q has no futures product type", market)
	}
	return pt, nil
}

// InstID formats the venue instrument id for a symbol in a market category.
func InstID(symbol string, mapping configs.MarketMapping) string {
	return symbol + mapping.Suffix
}

// SymbolFromInstID strips the market suffix from a venue instrument id.
func SymbolFromInstID(instID string, mapping configs.MarketMapping) string {
	return strings.TrimSuffix(instID, mapping.Suffix)
}
