package schema

import "strings"

// CanonicalSymbol renders the system-wide symbol "{exchange}-{base}-{quote}".
// The connector type stands in for the exchange when no exchange name is configured.
func CanonicalSymbol(group ConnectorGroup, cfg ConnectorConfiguration) string {
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		exchange = strings.TrimSpace(cfg.ConnectorType)
	}
	return exchange + "-" + strings.TrimSpace(group.Name) + "-" + strings.TrimSpace(cfg.QuoteAsset)
}

// PairSymbol joins base and quote with sep after applying transform to each leg.
func PairSymbol(group ConnectorGroup, cfg ConnectorConfiguration, sep string, transform func(string) string) string {
	base := strings.TrimSpace(group.Name)
	quote := strings.TrimSpace(cfg.QuoteAsset)
	if transform != nil {
		base = transform(base)
		quote = transform(quote)
	}
	return base + sep + quote
}
