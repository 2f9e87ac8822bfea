package app

import (
	"context"
	"errors"
	"log"

	"memorylane/internal/auth"
	"memorylane/internal/capture"
	"memorylane/internal/config"
	"memorylane/internal/drafts"
	"memorylane/internal/gateway"
	"memorylane/internal/livesync"
	"memorylane/internal/models"
	"memorylane/internal/prefs"
	"memorylane/internal/session"
	"memorylane/internal/storage"
)

// Media are the platform capture collaborators. Thumbnails may be nil.
type Media struct {
	Devices    capture.Devices
	Encoder    capture.Encoder
	Thumbnails capture.Thumbnailer
}

// Client is one device wired to the gateway, the blob store and its local
// prefs file. It starts signed out.
type Client struct {
	*App

	Auth    *auth.Provider
	Gateway *gateway.Client
	Session *session.Store
	Prefs   *prefs.Store
}

// Open builds a Client from cfg.
func Open(ctx context.Context, cfg config.Config, media Media) (*Client, error) {
	if cfg.GatewayURL == "" {
		return nil, errors.New("gateway url is required")
	}
	if media.Devices == nil || media.Encoder == nil {
		return nil, errors.New("capture devices and encoder are required")
	}

	blobs, err := storage.NewS3Store(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	p, err := prefs.Open(cfg.PrefsPath)
	if err != nil {
		return nil, err
	}

	var provider *auth.Provider
	gw := gateway.New(cfg.GatewayURL, func() string { return provider.Token() })
	provider = auth.NewProvider(gw, nil)

	reg := livesync.NewRegistry(gw, func(kind models.Kind, filter string, err error) {
		log.Printf("[App] subscription error kind=%s filter=%s: %v", kind, filter, err)
	})
	repo := drafts.NewRepository(gw, blobs)
	sess := session.New(session.Deps{
		Auth:     provider,
		Backend:  gw,
		Registry: reg,
		Drafts:   repo,
		Prefs:    p,
	})

	a := New(Deps{
		Session:    sess,
		Backend:    gw,
		Blobs:      blobs,
		Drafts:     repo,
		Devices:    media.Devices,
		Encoder:    media.Encoder,
		Thumbnails: media.Thumbnails,
		CaptureConfig: capture.Config{
			MaxDuration:      cfg.CaptureMax,
			ThumbnailTimeout: cfg.ThumbnailTimeout,
		},
	})
	return &Client{App: a, Auth: provider, Gateway: gw, Session: sess, Prefs: p}, nil
}

// Close ends the capture and session, then closes the prefs file.
func (c *Client) Close() error {
	c.App.Close()
	c.Session.Close()
	return c.Prefs.Close()
}
