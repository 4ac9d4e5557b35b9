package netguard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/uicp/runtime/pkg/uicp"
)

// urlhausResponse models the subset of the URLHaus host-lookup response
// this guard cares about. The API has shipped both "query_status" and a
// misspelled "query_staus" key historically; both are checked, in that
// order, and this tolerance is intentional — not a bug to "fix" — per
// the documented open question.
type urlhausResponse struct {
	QueryStatus string `json:"query_status"`
	QueryStaus  string `json:"query_staus"`
	URLCount    string `json:"url_count"`
}

// ThreatIntel looks up host reputation against a URLHaus-shaped API,
// caching verdicts with a TTL, deduplicating concurrent lookups for the
// same host via singleflight (the same "in-flight promise map" dedup
// technique used for cache-warming lookups in comparable proxies), and
// evicting the soonest-to-expire entry when the cache exceeds capacity.
type ThreatIntel struct {
	client   *http.Client
	url      string
	ttl      time.Duration
	capacity int
	enabled  bool

	mu    sync.Mutex
	cache map[string]uicp.ThreatVerdict
	group singleflight.Group
}

func NewThreatIntel(apiURL string, ttl time.Duration, capacity int, enabled bool) *ThreatIntel {
	return &ThreatIntel{
		client:   &http.Client{Timeout: 5 * time.Second},
		url:      apiURL,
		ttl:      ttl,
		capacity: capacity,
		enabled:  enabled,
		cache:    make(map[string]uicp.ThreatVerdict),
	}
}

// Lookup returns a cached verdict if fresh, otherwise performs (at most
// once per host concurrently, thanks to singleflight) a live lookup with
// retry-with-backoff, capped at 3 attempts.
func (t *ThreatIntel) Lookup(ctx context.Context, host string) (uicp.ThreatVerdict, error) {
	if !t.enabled {
		return uicp.ThreatVerdict{Host: host, Malicious: false, QueryOK: true, FetchedAt: time.Now().UTC(), TTL: t.ttl}, nil
	}

	t.mu.Lock()
	if v, ok := t.cache[host]; ok && !v.Expired(time.Now().UTC()) {
		t.mu.Unlock()
		return v, nil
	}
	t.mu.Unlock()

	v, err, _ := t.group.Do(host, func() (interface{}, error) {
		return t.fetch(ctx, host)
	})
	if err != nil {
		return uicp.ThreatVerdict{}, err
	}
	verdict := v.(uicp.ThreatVerdict)
	t.store(host, verdict)
	return verdict, nil
}

func (t *ThreatIntel) fetch(ctx context.Context, host string) (uicp.ThreatVerdict, error) {
	var result uicp.ThreatVerdict
	op := func() error {
		form := url.Values{"host": {host}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.URL.RawQuery = form.Encode()
		resp, err := t.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		var parsed urlhausResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return backoff.Permanent(err)
		}
		status := parsed.QueryStatus
		if status == "" {
			status = parsed.QueryStaus
		}
		result = uicp.ThreatVerdict{
			Host:      host,
			Malicious: status == "ok" && parsed.URLCount != "" && parsed.URLCount != "0",
			QueryOK:   status == "ok" || status == "no_results",
			FetchedAt: time.Now().UTC(),
			TTL:       t.ttl,
		}
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		log.Warn().Err(err).Str("host", host).Msg("threat intel lookup failed, treating as unknown")
		return uicp.ThreatVerdict{Host: host, Malicious: false, QueryOK: false, FetchedAt: time.Now().UTC(), TTL: t.ttl}, nil
	}
	return result, nil
}

func (t *ThreatIntel) store(host string, v uicp.ThreatVerdict) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache[host] = v
	if len(t.cache) > t.capacity {
		t.evictSoonestExpiringLocked()
	}
}

func (t *ThreatIntel) evictSoonestExpiringLocked() {
	var oldestHost string
	var oldestExpiry time.Time
	for h, v := range t.cache {
		ttl := v.TTL
		if v.Malicious {
			ttl *= 2
		}
		expiry := v.FetchedAt.Add(ttl)
		if oldestHost == "" || expiry.Before(oldestExpiry) {
			oldestHost, oldestExpiry = h, expiry
		}
	}
	if oldestHost != "" {
		delete(t.cache, oldestHost)
	}
}

// Sweep removes every expired cache entry; intended to be driven by a
// periodic janitor loop (see cache_janitor.go) rather than called inline
// on the request path.
func (t *ThreatIntel) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for h, v := range t.cache {
		if v.Expired(now) {
			delete(t.cache, h)
			removed++
		}
	}
	return removed
}

// Size reports the current cache entry count, for metrics/tests.
func (t *ThreatIntel) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cache)
}
