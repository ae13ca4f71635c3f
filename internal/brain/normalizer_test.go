package brain

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRejectsBadPayloads(t *testing.T) {
	n := NewNormalizer()

	tests := []struct {
		name  string
		in    *Inbound
		field string
	}{
		{name: "nil body", in: nil, field: "body"},
		{name: "empty message", in: &Inbound{Message: ""}, field: "message"},
		{name: "blank message", in: &Inbound{Message: "   \t  "}, field: "message"},
		{name: "oversized message", in: &Inbound{Message: strings.Repeat("x", MaxMessageLength+1)}, field: "message"},
		{name: "unknown application", in: &Inbound{Message: "hi", Application: "time-machine"}, field: "application"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.in, nil)
			require.Error(t, err)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestNormalizeDefaultsToGeneralApplication(t *testing.T) {
	req, err := NewNormalizer().Normalize(&Inbound{Message: "hello"}, nil)
	require.NoError(t, err)
	assert.Equal(t, AppGeneral, req.Application)
}

func TestNormalizeStampsMetadata(t *testing.T) {
	httpReq := httptest.NewRequest("POST", "/brain", nil)
	httpReq.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0) Mobile/15E148")
	httpReq.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	req, err := NewNormalizer().Normalize(&Inbound{Message: "  hello  ", Application: "Healing-Rooms"}, httpReq)
	require.NoError(t, err)

	assert.Equal(t, "hello", req.Message)
	assert.Equal(t, AppHealingRooms, req.Application)
	assert.NotEmpty(t, req.Metadata.RequestID)
	assert.False(t, req.Metadata.Timestamp.IsZero())
	assert.Equal(t, "203.0.113.7", req.Metadata.ClientIP)
	assert.Equal(t, "mobile", req.Metadata.DeviceType)
	assert.NotNil(t, req.Metadata.Hints)
}

func TestNormalizeGeneratesUniqueRequestIDs(t *testing.T) {
	n := NewNormalizer()
	a, err := n.Normalize(&Inbound{Message: "one"}, nil)
	require.NoError(t, err)
	b, err := n.Normalize(&Inbound{Message: "two"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.Metadata.RequestID, b.Metadata.RequestID)
}

func TestClientIPFallbacks(t *testing.T) {
	r := httptest.NewRequest("POST", "/brain", nil)
	r.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", clientIP(r))

	r = httptest.NewRequest("POST", "/brain", nil)
	r.RemoteAddr = "192.0.2.9:51234"
	assert.Equal(t, "192.0.2.9", clientIP(r))
}

func TestDeviceTypeClassification(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{"", "unknown"},
		{"Mozilla/5.0 (iPad; CPU OS 16_0)", "tablet"},
		{"Mozilla/5.0 (Linux; Android 14) Mobile", "mobile"},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64)", "desktop"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, deviceType(tt.ua), tt.ua)
	}
}
