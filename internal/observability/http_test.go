package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallerFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws/memories?filter=f1", nil)
	req.RemoteAddr = "10.0.0.9:5123"
	req.Header.Set("X-Device-Id", "ios-1")
	req.Header.Set("X-Request-Id", "req-1")

	c := CallerFromRequest(req)
	assert.Equal(t, Caller{DeviceID: "ios-1", RequestID: "req-1", IP: "10.0.0.9"}, c)

	req.Header.Set("X-Real-Ip", "203.0.113.5")
	assert.Equal(t, "203.0.113.5", CallerFromRequest(req).IP)

	req.Header.Set("X-Forwarded-For", " 198.51.100.7 , 10.0.0.1")
	assert.Equal(t, "198.51.100.7", CallerFromRequest(req).IP)
}
