package scrape

import (
	"fmt"
	"net/url"

	"github.com/commercesignal/commercesignal/internal/config"
)

// ProxySelector resolves the upstream proxy for browser sessions. In free
// mode no proxy is configured and direct connections are used; paid mode
// routes through ScraperAPI or Bright Data residential pools.
type ProxySelector struct {
	cfg config.ProxyConfig
}

// NewProxySelector returns nil when no proxy credentials are configured,
// which callers treat as "connect directly".
func NewProxySelector(cfg config.ProxyConfig) *ProxySelector {
	if !cfg.Configured() {
		return nil
	}
	return &ProxySelector{cfg: cfg}
}

// Server returns the proxy address in the form Chrome accepts via
// --proxy-server. Credentials ride in the userinfo portion.
func (p *ProxySelector) Server() string {
	if p == nil {
		return ""
	}
	if p.cfg.ScraperAPIKey != "" {
		return fmt.Sprintf("http://scraperapi:%s@proxy-server.scraperapi.com:8001", url.QueryEscape(p.cfg.ScraperAPIKey))
	}
	if p.cfg.BrightDataUser != "" {
		return fmt.Sprintf("http://%s:%s@brd.superproxy.io:22225",
			url.QueryEscape(p.cfg.BrightDataUser), url.QueryEscape(p.cfg.BrightDataPass))
	}
	return ""
}
