package proxy

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"resty.dev/v3"
)

const maxParallelProbes = 50

// ProxySupplier hands out outbound proxies for catalog requests in round-robin order
type ProxySupplier interface {
	Get() string
	Len() int
}

type proxySupplier struct {
	proxies []string
	current int
	mutex   sync.Mutex
}

// NewProxySupplier keeps the proxies that can reach probeURL. Headers are sent
// with every probe so credentialed catalogs accept the request.
func NewProxySupplier(ctx context.Context, proxies []string, probeURL string, headers map[string]string) (ProxySupplier, error) {
	if len(proxies) == 0 {
		return &proxySupplier{proxies: []string{}}, nil
	}

	log.Infof("🔄 Probing %d proxies against %s...", len(proxies), probeURL)

	working := make([]bool, len(proxies))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelProbes)

	for i, proxyURL := range proxies {
		i, proxyURL := i, proxyURL
		g.Go(func() error {
			working[i] = probe(ctx, proxyURL, probeURL, headers)
			if working[i] {
				log.Infof("✅ Proxy %s reaches the catalog", proxyURL)
			} else {
				log.Infof("❌ Proxy %s cannot reach the catalog, skipping", proxyURL)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	valid := make([]string, 0, len(proxies))
	for i, ok := range working {
		if ok {
			valid = append(valid, proxies[i])
		}
	}

	log.Infof("✅ ProxySupplier initialized with %d working proxies out of %d probed", len(valid), len(proxies))

	return &proxySupplier{proxies: valid}, nil
}

// NewStaticSupplier skips probing, for callers that already trust the list.
func NewStaticSupplier(proxies ...string) ProxySupplier {
	return &proxySupplier{proxies: append([]string(nil), proxies...)}
}

// Get returns the next proxy URL, or "" when none is configured
func (p *proxySupplier) Get() string {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.proxies) == 0 {
		return ""
	}

	proxy := p.proxies[p.current]
	p.current = (p.current + 1) % len(p.proxies)

	return proxy
}

func (p *proxySupplier) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.proxies)
}

// probe reports whether the catalog answers through proxyURL. A 429 still
// proves the route works.
func probe(ctx context.Context, proxyURL, probeURL string, headers map[string]string) bool {
	client := resty.New().
		SetTimeout(5 * time.Second).
		SetRetryCount(0).
		SetProxy(proxyURL).
		SetHeaders(headers)
	defer client.Close()

	resp, err := client.R().
		SetContext(ctx).
		Get(probeURL)

	if err != nil {
		log.Debugf("Proxy probe failed for %s: %v", proxyURL, err)
		return false
	}

	if resp.IsError() && resp.StatusCode() != 429 {
		log.Debugf("Proxy probe failed for %s with status: %s", proxyURL, resp.Status())
		return false
	}

	return true
}
