package config

import (
	"net/http"
	"net/url"
	"os"

	"golang.org/x/net/http/httpproxy"
)

// ResolvedProxies maps "http" and "https" to the proxy used for that scheme.
// A scheme specific proxy wins over the all_proxy fallback.
func (c Config) ResolvedProxies() map[string]string {
	proxies := make(map[string]string, 2)
	if p := firstNonEmpty(c.Proxy.HTTP, c.Proxy.All); p != "" {
		proxies["http"] = p
	}
	if p := firstNonEmpty(c.Proxy.HTTPS, c.Proxy.All); p != "" {
		proxies["https"] = p
	}
	return proxies
}

// ProxyFunc returns an http.Transport proxy selector built from the
// configured proxies rather than the process environment.
func (c Config) ProxyFunc() func(*http.Request) (*url.URL, error) {
	proxies := c.ResolvedProxies()
	pc := &httpproxy.Config{
		HTTPProxy:  proxies["http"],
		HTTPSProxy: proxies["https"],
		NoProxy:    c.Proxy.NoProxy,
	}
	fn := pc.ProxyFunc()

	return func(r *http.Request) (*url.URL, error) {
		return fn(r.URL)
	}
}

// ApplyNoProxyEnv exports no_proxy so child processes and libraries that
// only read the environment agree with the adapter.
func (c Config) ApplyNoProxyEnv() error {
	if c.Proxy.NoProxy == "" {
		return nil
	}
	if err := os.Setenv("NO_PROXY", c.Proxy.NoProxy); err != nil {
		return err
	}
	return os.Setenv("no_proxy", c.Proxy.NoProxy)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
