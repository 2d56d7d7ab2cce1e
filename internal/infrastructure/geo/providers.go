// Package geo resolves best-effort visitor location metadata through an
// ordered chain of external providers with a time-boxed cache.
package geo

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"github.com/anasirfan/limi-sub004/internal/domain/visitor"
)

// Mapper converts one provider's response body into the common GeoInfo shape.
type Mapper func(body []byte) (*visitor.GeoInfo, error)

// Provider pairs a lookup URL with its response mapper. Adding a provider to
// the chain is a one-line change in DefaultProviders.
type Provider struct {
	Name string
	URL  string
	Map  Mapper
}

// DefaultProviders builds the ordered chain from configured URLs plus the
// final local fallback endpoint. Mappers are matched on the URL's host so the
// list stays env-configurable.
func DefaultProviders(urls []string, fallbackURL string) []Provider {
	providers := make([]Provider, 0, len(urls)+1)
	for _, u := range urls {
		providers = append(providers, Provider{
			Name: hostLabel(u),
			URL:  u,
			Map:  mapperFor(u),
		})
	}
	if fallbackURL != "" {
		providers = append(providers, Provider{
			Name: "fallback",
			URL:  fallbackURL,
			Map:  mapGeneric,
		})
	}
	return providers
}

func hostLabel(rawURL string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	if idx := strings.IndexAny(trimmed, "/?"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}

func mapperFor(rawURL string) Mapper {
	switch {
	case strings.Contains(rawURL, "ipapi.co"):
		return mapIPAPI
	case strings.Contains(rawURL, "ipwho.is"):
		return mapIPWho
	case strings.Contains(rawURL, "ipinfo.io"):
		return mapGeneric
	default:
		return mapGeneric
	}
}

// UsableIP reports whether a provider response carries a real address.
// Empty and loopback addresses mean the provider answered without resolving.
func UsableIP(ip string) bool {
	if ip == "" {
		return false
	}
	if parsed := net.ParseIP(ip); parsed != nil && parsed.IsLoopback() {
		return false
	}
	return ip != visitor.LoopbackIP
}

// mapGeneric handles responses already shaped like GeoInfo (ipinfo.io and
// our own fallback endpoint).
func mapGeneric(body []byte) (*visitor.GeoInfo, error) {
	var resp struct {
		IP       string `json:"ip"`
		Country  string `json:"country"`
		City     string `json:"city"`
		Region   string `json:"region"`
		Postal   string `json:"postal"`
		Timezone string `json:"timezone"`
		Org      string `json:"org"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("malformed geo response: %w", err)
	}
	return &visitor.GeoInfo{
		IP:       resp.IP,
		Country:  orUnknown(resp.Country),
		City:     orUnknown(resp.City),
		Region:   orUnknown(resp.Region),
		Postal:   orUnknown(resp.Postal),
		Timezone: orUnknown(resp.Timezone),
		Org:      orUnknown(resp.Org),
	}, nil
}

func mapIPAPI(body []byte) (*visitor.GeoInfo, error) {
	var resp struct {
		IP          string `json:"ip"`
		CountryName string `json:"country_name"`
		City        string `json:"city"`
		Region      string `json:"region"`
		Postal      string `json:"postal"`
		Timezone    string `json:"timezone"`
		Org         string `json:"org"`
		Error       bool   `json:"error"`
		Reason      string `json:"reason"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("malformed ipapi.co response: %w", err)
	}
	if resp.Error {
		return nil, fmt.Errorf("ipapi.co refused lookup: %s", resp.Reason)
	}
	return &visitor.GeoInfo{
		IP:       resp.IP,
		Country:  orUnknown(resp.CountryName),
		City:     orUnknown(resp.City),
		Region:   orUnknown(resp.Region),
		Postal:   orUnknown(resp.Postal),
		Timezone: orUnknown(resp.Timezone),
		Org:      orUnknown(resp.Org),
	}, nil
}

func mapIPWho(body []byte) (*visitor.GeoInfo, error) {
	var resp struct {
		IP       string `json:"ip"`
		Success  *bool  `json:"success"`
		Country  string `json:"country"`
		City     string `json:"city"`
		Region   string `json:"region"`
		Postal   string `json:"postal"`
		Timezone struct {
			ID string `json:"id"`
		} `json:"timezone"`
		Connection struct {
			Org string `json:"org"`
		} `json:"connection"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("malformed ipwho.is response: %w", err)
	}
	if resp.Success != nil && !*resp.Success {
		return nil, fmt.Errorf("ipwho.is refused lookup")
	}
	return &visitor.GeoInfo{
		IP:       resp.IP,
		Country:  orUnknown(resp.Country),
		City:     orUnknown(resp.City),
		Region:   orUnknown(resp.Region),
		Postal:   orUnknown(resp.Postal),
		Timezone: orUnknown(resp.Timezone.ID),
		Org:      orUnknown(resp.Connection.Org),
	}, nil
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return visitor.UnknownField
	}
	return v
}
