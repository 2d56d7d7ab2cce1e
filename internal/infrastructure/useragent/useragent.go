// Package useragent classifies User-Agent strings into the coarse browser
// family and device class the collector envelope carries.
package useragent

import "strings"

// Browser family labels, lowercase on the wire.
const (
	BrowserChrome  = "chrome"
	BrowserEdge    = "edge"
	BrowserFirefox = "firefox"
	BrowserSafari  = "safari"
	BrowserOpera   = "opera"
	BrowserUnknown = "unknown"
)

// BrowserFamily returns the lowercase browser family name, or "unknown".
// Order matters: Edge and Opera embed "Chrome", Chrome embeds "Safari".
func BrowserFamily(ua string) string {
	lower := strings.ToLower(ua)
	switch {
	case lower == "":
		return BrowserUnknown
	case strings.Contains(lower, "edg/") || strings.Contains(lower, "edge/"):
		return BrowserEdge
	case strings.Contains(lower, "opr/") || strings.Contains(lower, "opera"):
		return BrowserOpera
	case strings.Contains(lower, "firefox/"):
		return BrowserFirefox
	case strings.Contains(lower, "chrome/") || strings.Contains(lower, "crios/"):
		return BrowserChrome
	case strings.Contains(lower, "safari/"):
		return BrowserSafari
	default:
		return BrowserUnknown
	}
}

// DeviceClass returns "mobile" or "desktop". Tablets count as mobile; the
// collector only distinguishes the two classes.
func DeviceClass(ua string) string {
	lower := strings.ToLower(ua)
	mobileMarkers := []string{"mobile", "android", "iphone", "ipad", "ipod", "windows phone", "blackberry"}
	for _, marker := range mobileMarkers {
		if strings.Contains(lower, marker) {
			return "mobile"
		}
	}
	return "desktop"
}
