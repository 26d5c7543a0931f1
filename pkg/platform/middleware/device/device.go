package device

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"keepsake/pkg/requestcontext"
)

// HeaderDeviceID carries the self-assigned identifier of an offline-capable device.
const HeaderDeviceID = "X-Device-ID"

const maxDeviceIDLength = 64

// Device records the User-Agent, a readable device label and the optional device id.
// The label is attached to request logs and sync review items so staff can tell which
// tablet or phone produced a quarantined chain.
func Device(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ua := r.Header.Get("User-Agent")
		if ua != "" {
			ctx = requestcontext.WithUserAgent(ctx, ua)
			ctx = requestcontext.WithDeviceLabel(ctx, Label(ua))
		}
		if deviceID := strings.TrimSpace(r.Header.Get(HeaderDeviceID)); deviceID != "" && len(deviceID) <= maxDeviceIDLength {
			ctx = requestcontext.WithDeviceID(ctx, deviceID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Label renders "Browser on OS" (or "Browser on Platform" for mobiles).
func Label(userAgent string) string {
	if userAgent == "" {
		return "Unknown Device"
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}
	if ua.Mobile() {
		if platform := ua.Platform(); platform != "" {
			return browser + " on " + platform
		}
	}
	os := ua.OS()
	if os == "" {
		os = "Unknown OS"
	}
	return browser + " on " + os
}
