package observability

import (
	"net"
	"net/http"
	"strings"
)

// Caller identifies the device behind a request for events and logs.
type Caller struct {
	DeviceID  string
	RequestID string
	IP        string
}

// CallerFromRequest reads X-Device-Id and X-Request-Id. The IP is the first
// X-Forwarded-For hop, then X-Real-Ip, then the peer address.
func CallerFromRequest(r *http.Request) Caller {
	return Caller{
		DeviceID:  r.Header.Get("X-Device-Id"),
		RequestID: r.Header.Get("X-Request-Id"),
		IP:        callerIP(r),
	}
}

func callerIP(r *http.Request) string {
	if hop, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(hop) != "" {
		return strings.TrimSpace(hop)
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
