// Package visitor defines the session, geolocation, and envelope entities
// owned by the visit-tracking subsystem.
package visitor

import "time"

// Consent represents the visitor's tracking decision. Absence of a stored
// decision is a distinct state: nothing may be transmitted while undecided.
type Consent string

const (
	ConsentUndecided Consent = "undecided"
	ConsentGranted   Consent = "granted"
	ConsentDenied    Consent = "denied"
)

// Session is the durable browsing identity for one profile. It is mutated
// only through the session store; duration accumulates exclusively at
// checkpoint time.
type Session struct {
	SessionID          string          `json:"sessionId"`
	CumulativeDuration int             `json:"cumulativeDurationSeconds"`
	VisitedPaths       map[string]bool `json:"visitedPaths"`
	HasFlushed         bool            `json:"hasFlushedAtLeastOnce"`
	CreatedAt          time.Time       `json:"createdAt"`
	LastCheckpoint     time.Time       `json:"lastCheckpoint"`
}

// PathList returns the visited page categories as a slice for envelope
// construction. Order is not meaningful.
func (s *Session) PathList() []string {
	paths := make([]string, 0, len(s.VisitedPaths))
	for p := range s.VisitedPaths {
		paths = append(paths, p)
	}
	return paths
}

// UnknownField is the sentinel used when geolocation resolution fails.
const UnknownField = "Unknown"

// LoopbackIP marks a failed resolution; a GeoInfo carrying it is never cached.
const LoopbackIP = "127.0.0.1"

// GeoInfo holds best-effort visitor location metadata from an external
// provider, cached until ResolvedAt ages past the configured TTL.
type GeoInfo struct {
	IP         string    `json:"ip"`
	Country    string    `json:"country"`
	City       string    `json:"city"`
	Region     string    `json:"region"`
	Postal     string    `json:"postal"`
	Timezone   string    `json:"timezone"`
	Org        string    `json:"org"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// IsSentinel reports whether this GeoInfo is the all-providers-failed value.
func (g *GeoInfo) IsSentinel() bool {
	return g.IP == "" || g.IP == LoopbackIP
}

// SentinelGeoInfo returns the value used when every provider fails.
func SentinelGeoInfo() *GeoInfo {
	return &GeoInfo{
		IP:       LoopbackIP,
		Country:  UnknownField,
		City:     UnknownField,
		Region:   UnknownField,
		Postal:   UnknownField,
		Timezone: UnknownField,
		Org:      UnknownField,
	}
}

// TrackingEnvelope is the wire payload sent to the collector on a flush.
// Envelopes are built fresh per flush and never persisted. Consent is always
// true on the wire; an envelope is never constructed otherwise.
type TrackingEnvelope struct {
	SessionID       string   `json:"sessionId"`
	CustomerID      *string  `json:"customerId"`
	IPAddress       *string  `json:"ipAddress"`
	Country         *string  `json:"country"`
	City            *string  `json:"city"`
	Region          *string  `json:"region"`
	Org             *string  `json:"org"`
	Postal          *string  `json:"postal"`
	Timezone        *string  `json:"timezone"`
	Referrer        *string  `json:"referrer"`
	UserAgent       string   `json:"userAgent"`
	SessionDuration int      `json:"sessionDuration"`
	PagesVisited    []string `json:"pagesVisited"`
	Consent         bool     `json:"consent"`
	IsUpdate        bool     `json:"isUpdate"`
	Browser         string   `json:"browser"`
	Device          string   `json:"device"`
	// Method mirrors IsUpdate for collectors that cannot see the HTTP verb
	// behind a beacon-style delivery.
	Method string `json:"_method"`
}

// Device class labels used in the envelope.
const (
	DeviceMobile  = "mobile"
	DeviceDesktop = "desktop"
)
