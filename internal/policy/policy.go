// Package policy implements the layered network policy engine: preset
// catalog, deep-copy-on-read semantics, wildcard domain matching, and
// private-address classification (IPv4 CIDR + IPv6 ULA/link-local).
package policy

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/uicp/runtime/pkg/contracts"
	"github.com/uicp/runtime/pkg/uicp"
)

// presetCatalog enumerates the three built-in named configurations,
// mirroring a "list known named configs" catalog shape.
var presetCatalog = map[uicp.PolicyPreset]uicp.Policy{
	uicp.PresetOpen: {
		Preset:          uicp.PresetOpen,
		Mode:            uicp.ModeDefaultAllow,
		Rules:           nil,
		DefaultQuota:    uicp.Quota{Capacity: 600, RefillRate: 10},
		AllowPrivate:    true,
		AllowPrivateLAN: "allow",
		AllowIPLiterals: true,
		MonitorOnly:     true,
		ThreatIntel:     false,
	},
	uicp.PresetBalanced: {
		Preset: uicp.PresetBalanced,
		Mode:   uicp.ModeDefaultAllow,
		Rules: []uicp.WildcardRule{
			{Pattern: "*.localhost", Allow: true},
		},
		DefaultQuota:    uicp.Quota{Capacity: 60, RefillRate: 1},
		AllowPrivate:    false,
		AllowPrivateLAN: "ask",
		AllowIPLiterals: true,
		MonitorOnly:     false,
		ThreatIntel:     true,
	},
	uicp.PresetLocked: {
		Preset:          uicp.PresetLocked,
		Mode:            uicp.ModeDefaultDeny,
		Rules:           nil,
		DefaultQuota:    uicp.Quota{Capacity: 10, RefillRate: 0.2},
		AllowPrivate:    false,
		AllowPrivateLAN: "deny",
		AllowIPLiterals: true,
		MonitorOnly:     false,
		ThreatIntel:     true,
	},
}

// Preset returns a deep copy of one built-in preset. Callers mutate the
// copy freely; the catalog entry itself never changes.
func Preset(name uicp.PolicyPreset) *uicp.Policy {
	p, ok := presetCatalog[name]
	if !ok {
		p = presetCatalog[uicp.PresetBalanced]
	}
	return p.Clone()
}

// EnsurePolicy fills in zero-valued fields of a partial policy with the
// balanced preset's defaults (whatever the partial's Preset names), field
// by field — the same typed-fallback
// idiom config.Load uses for env vars, generalized to struct fields.
func EnsurePolicy(partial *uicp.Policy) *uicp.Policy {
	base := Preset(uicp.PresetBalanced)
	if partial == nil {
		return base
	}
	out := partial.Clone()
	if out.Preset == "" {
		out.Preset = base.Preset
	}
	if out.Mode == "" {
		out.Mode = base.Mode
	}
	if out.AllowPrivateLAN == "" {
		out.AllowPrivateLAN = base.AllowPrivateLAN
	}
	if out.Rules == nil {
		out.Rules = base.Rules
	}
	if out.DefaultQuota == (uicp.Quota{}) {
		out.DefaultQuota = base.DefaultQuota
	}
	return out
}

// Store is the singleton policy holder. It is constructed once by the
// composition root and passed by reference to every collaborator that
// needs it — never held in a package-level var — so tests can build a
// fresh Store per test case.
type Store struct {
	mu         sync.RWMutex
	current    *uicp.Policy
	persist    contracts.PolicyPersistence
	subscribers []chan *uicp.Policy
}

// NewStore loads the persisted policy (if any) or falls back to the given
// preset, and is ready to synchronously notify subscribers on every
// subsequent Set.
func NewStore(ctx context.Context, persist contracts.PolicyPersistence, fallbackPreset uicp.PolicyPreset) *Store {
	s := &Store{persist: persist}
	if persist != nil {
		if p, err := persist.Load(ctx); err == nil && p != nil {
			s.current = EnsurePolicy(p)
			return s
		}
	}
	s.current = Preset(fallbackPreset)
	return s
}

// Get returns a deep copy of the current policy; the caller can never
// mutate engine-internal state through the returned pointer.
func (s *Store) Get() *uicp.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Set replaces the current policy, persists it, and synchronously
// notifies every subscriber before returning.
func (s *Store) Set(ctx context.Context, p *uicp.Policy) error {
	resolved := EnsurePolicy(p)
	s.mu.Lock()
	s.current = resolved
	subs := append([]chan *uicp.Policy(nil), s.subscribers...)
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.Save(ctx, resolved); err != nil {
			return err
		}
	}
	for _, ch := range subs {
		select {
		case ch <- resolved.Clone():
		default:
		}
	}
	return nil
}

// Subscribe registers a channel that receives a copy of the policy on
// every Set call.
func (s *Store) Subscribe() (<-chan *uicp.Policy, func()) {
	ch := make(chan *uicp.Policy, 4)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range s.subscribers {
			if c == ch {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

// ── Wildcard matching ────────────────────────────────────────

// MatchesWildcardDomain reports whether host matches a rule pattern that
// may start with "*." for subdomain wildcarding. "*.example.com" matches
// "api.example.com" and "example.com" itself, but not "evilexample.com".
func MatchesWildcardDomain(pattern, host string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	host = strings.ToLower(strings.TrimSpace(host))
	if pattern == host {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // ".example.com"
		base := pattern[2:]   // "example.com"
		return host == base || strings.HasSuffix(host, suffix)
	}
	return false
}

// MatchRules evaluates a host against the policy's ordered rule list,
// first match wins; returns (allow, matched).
func MatchRules(rules []uicp.WildcardRule, host string) (allow bool, matched bool) {
	for _, r := range rules {
		if MatchesWildcardDomain(r.Pattern, host) {
			return r.Allow, true
		}
	}
	return false, false
}

// MatchCustomExprs evaluates the policy's optional expr-lang boolean
// expressions against the request context. Any expression returning true
// allows the request. Used as the extension point the workflow engine's
// own matchCondition comment flagged for a future expr-lang upgrade.
func MatchCustomExprs(exprs []string, env map[string]interface{}) bool {
	for _, e := range exprs {
		prog, err := expr.Compile(e, expr.Env(env), expr.AsBool())
		if err != nil {
			continue
		}
		out, err := expr.Run(prog, env)
		if err != nil {
			continue
		}
		if b, ok := out.(bool); ok && b {
			return true
		}
	}
	return false
}

// ── Private-address classification ──────────────────────────

// privateCIDRs are the IPv4 ranges classified as private/link-local.
var privateCIDRs = func() []*net.IPNet {
	ranges := []string{
		"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "100.64.0.0/10",
		"127.0.0.0/8", "169.254.0.0/16", "0.0.0.0/8",
	}
	out := make([]*net.IPNet, 0, len(ranges))
	for _, r := range ranges {
		_, n, err := net.ParseCIDR(r)
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}()

// IsPrivateHost classifies a host (hostname or literal IP) as a private
// network address: IPv4 via CIDR integer-mask containment, IPv6 via the
// ULA prefix (fc00::/7) or link-local (fe80::/10) first-byte/prefix check.
func IsPrivateHost(host string) bool {
	host = stripPort(host)
	ip := net.ParseIP(host)
	if ip == nil {
		if host == "localhost" {
			return true
		}
		return false
	}
	if ip4 := ip.To4(); ip4 != nil {
		for _, n := range privateCIDRs {
			if n.Contains(ip4) {
				return true
			}
		}
		return false
	}
	// IPv6: ULA fc00::/7 (first byte 0xfc/0xfd) or link-local fe80::/10.
	b0 := ip[0]
	if b0 == 0xfc || b0 == 0xfd {
		return true
	}
	if b0 == 0xfe && (ip[1]&0xc0) == 0x80 {
		return true
	}
	if ip.IsLoopback() {
		return true
	}
	return false
}

// ClassifyPrivate reports whether host (hostname or literal IP) falls in a
// private/link-local range, and if so whether it was an IPv6 address — the
// two get distinct block reasons upstream. Unlike IsPrivateHost it does not
// special-case the "localhost" label; callers that need loopback-label
// handling do that separately, ahead of this check.
func ClassifyPrivate(host string) (private bool, isIPv6 bool) {
	host = stripPort(host)
	ip := net.ParseIP(host)
	if ip == nil {
		return false, false
	}
	if ip4 := ip.To4(); ip4 != nil {
		for _, n := range privateCIDRs {
			if n.Contains(ip4) {
				return true, false
			}
		}
		return false, false
	}
	b0 := ip[0]
	if b0 == 0xfc || b0 == 0xfd {
		return true, true
	}
	if b0 == 0xfe && (ip[1]&0xc0) == 0x80 {
		return true, true
	}
	if ip.IsLoopback() {
		return true, true
	}
	return false, true
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// ParsePort extracts a numeric port from a "host:port" string, defaulting
// to 0 (meaning "unspecified") when absent or malformed.
func ParsePort(hostport string) int {
	_, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return p
}
