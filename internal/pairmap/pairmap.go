package pairmap

import (
	"strings"
)

// Separator separates base and quote asset in a pair, e.g. BTC/USDT.
const Separator = "/"

// Mapper translates asset pairs between the published names and the names
// used by an exchange, e.g. published USD is USDT on the exchange.
type Mapper struct {
	forward  map[string]string
	backward map[string]string
}

// New creates a mapper from published asset to exchange asset.
func New(assets map[string]string) *Mapper {
	m := &Mapper{
		forward:  make(map[string]string, len(assets)),
		backward: make(map[string]string, len(assets)),
	}
	for published, exch := range assets {
		published = strings.ToUpper(strings.TrimSpace(published))
		exch = strings.ToUpper(strings.TrimSpace(exch))
		if published == "" || exch == "" {
			continue
		}
		m.forward[published] = exch
		m.backward[exch] = published
	}
	return m
}

// Forward maps a published pair to the exchange pair.
// A nil mapper leaves pairs unchanged.
func (m *Mapper) Forward(pair string) string {
	if m == nil {
		return pair
	}
	return translate(pair, m.forward)
}

// Backward maps an exchange pair to the published pair.
func (m *Mapper) Backward(pair string) string {
	if m == nil {
		return pair
	}
	return translate(pair, m.backward)
}

// Join builds a pair from base and quote asset.
func Join(base string, quote string) string {
	return base + Separator + quote
}

func translate(pair string, table map[string]string) string {
	if len(table) == 0 {
		return pair
	}
	assets := strings.Split(pair, Separator)
	for i, asset := range assets {
		if mapped, ok := table[strings.ToUpper(asset)]; ok {
			assets[i] = mapped
		}
	}
	return strings.Join(assets, Separator)
}
