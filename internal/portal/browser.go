// Package portal is the CNV web-portal transport: a headless browser that
// expands the CuotaPartes listing into ledger-ready source records and
// drives the per-record file downloads. It hands raw files to the core and
// never interprets their contents.
package portal

import (
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/outlier-data/fondos-etl/internal/config"
)

// Client drives a headless Chrome session against the portal.
type Client struct {
	cfg     config.PortalConfig
	browser *rod.Browser
	limiter *rate.Limiter
	log     *zap.Logger
}

// Launch starts the browser and connects to it. The caller must Close.
func Launch(cfg config.PortalConfig) (*Client, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		Set("no-sandbox").
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("disable-extensions")

	url, err := l.Launch()
	if err != nil {
		return nil, eris.Wrap(err, "portal: launch browser")
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return nil, eris.Wrap(err, "portal: connect to browser")
	}

	return &Client{
		cfg:     cfg,
		browser: browser,
		// One navigation every couple of seconds keeps the nightly batch
		// polite against a government site.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		log:     zap.L().With(zap.String("component", "portal")),
	}, nil
}

// Close shuts the browser down.
func (c *Client) Close() error {
	if err := c.browser.Close(); err != nil {
		return eris.Wrap(err, "portal: close browser")
	}
	return nil
}
