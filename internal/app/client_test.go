package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memorylane/internal/auth"
	"memorylane/internal/config"
	"memorylane/internal/session"
)

func clientConfig(gatewayURL string) config.Config {
	return config.Config{
		GatewayURL:       gatewayURL,
		PrefsPath:        ":memory:",
		S3:               config.S3{Endpoint: "http://127.0.0.1:9000", Bucket: "memories", AccessKey: "k", SecretKey: "s"},
		CaptureMax:       30 * time.Second,
		ThumbnailTimeout: time.Second,
	}
}

func TestOpenRequiresGatewayAndMedia(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, clientConfig(""), Media{Devices: fakeDevices{}, Encoder: fakeEncoder{}})
	require.Error(t, err)

	_, err = Open(ctx, clientConfig("http://gateway.test"), Media{})
	require.Error(t, err)
}

func TestOpenStartsSignedOutAndRejectsBadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer srv.Close()

	c, err := Open(context.Background(), clientConfig(srv.URL), Media{Devices: fakeDevices{}, Encoder: fakeEncoder{}})
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()

	assert.Equal(t, session.StatusUnauthenticated, c.Session.State().Status)

	err = c.Session.SignIn(context.Background(), auth.Credential{Token: "bogus"})
	require.ErrorIs(t, err, auth.ErrInvalidToken)
	assert.Equal(t, session.StatusUnauthenticated, c.Session.State().Status)

	_, err = c.StartCapture(context.Background(), ModeRecord, nil)
	require.ErrorIs(t, err, session.ErrNotSignedIn)
}
