package netguard

import (
	"net"
	"strings"

	"github.com/uicp/runtime/internal/policy"
	"github.com/uicp/runtime/pkg/uicp"
)

// classification is the outcome of shouldBlockHost's precedence walk.
type classification struct {
	block  bool
	reason string
}

// dotPort is the DNS-over-TLS port; any request to it is blocked
// regardless of host or policy.
const dotPort = 853

// loopbackLabels are the literal hostnames step 2 allows unconditionally,
// distinct from the broader private-range CIDR check in step 6 (which
// also happens to cover 127.0.0.0/8, but only after allow/block rules and
// the DoH blocklist have had a chance to fire first).
var loopbackLabels = map[string]bool{
	"localhost":  true,
	"127.0.0.1":  true,
	"::1":        true,
}

// dohBlocklist is the default set of DNS-over-HTTPS resolver endpoints
// blocked regardless of preset, named by spec: Cloudflare, Google, Quad9,
// OpenDNS, NextDNS.
var dohBlocklist = []string{
	"1.1.1.1", "1.0.0.1", "cloudflare-dns.com",
	"8.8.8.8", "8.8.4.4", "dns.google",
	"9.9.9.9", "dns.quad9.net",
	"208.67.222.222", "208.67.220.220", "doh.opendns.com",
	"dns.nextdns.io",
}

// shouldBlockHost applies the seven-rule host classification precedence,
// evaluated top to bottom with the first matching rule winning. It is
// pure: it never mutates the policy and takes only (host, port) as the
// spec's classifier signature — threat-intel verdicts are a separate,
// earlier pipeline stage Guard.Decide folds in before ever reaching here.
//
//  1. Port 853 (DoT) -> always block.
//  2. Loopback labels (localhost, 127.0.0.1, ::1) -> allow.
//  3. Configured allow-domains/allow-IPs/allow-IP-ranges -> allow.
//  4. Default DoH blocklist -> block.
//  5. Configured block-domains/block-IPs -> block.
//  6. IP literals in a private range consult allow_private_lan
//     (allow|ask|deny); allow_ip_literals=false blocks every IP literal.
//  7. Policy mode default_deny with no matching allow rule -> block.
func shouldBlockHost(p *uicp.Policy, host string, port int) classification {
	if port == dotPort {
		return classification{block: true, reason: "dot_port_blocked"}
	}

	bareHost := stripHostPort(host)
	if loopbackLabels[strings.ToLower(bareHost)] {
		return classification{block: false, reason: "loopback_allowed"}
	}

	if allow, matched := matchConfigured(p.Rules, bareHost); matched {
		if allow {
			return classification{block: false, reason: "allow_rule_matched"}
		}
		return classification{block: true, reason: "block_rule_matched"}
	}

	if isDoHEndpoint(bareHost) {
		return classification{block: true, reason: "doh_endpoint_blocked"}
	}

	if ip := net.ParseIP(bareHost); ip != nil {
		if !p.AllowIPLiterals {
			return classification{block: true, reason: "ip_literals_disallowed"}
		}
		if private, isIPv6 := policy.ClassifyPrivate(bareHost); private {
			switch p.AllowPrivateLAN {
			case "allow":
				return classification{block: false, reason: "private_lan_allowed"}
			case "ask":
				return classification{block: true, reason: "private_lan_blocked"}
			default: // "deny" or unset
				if isIPv6 {
					return classification{block: true, reason: "ip_v6_private"}
				}
				return classification{block: true, reason: "ip_private"}
			}
		}
		// public IP literal, allowed through the literal gate; falls
		// through to the policy-mode fallback below.
	}

	if p.Mode == uicp.ModeDefaultDeny {
		// No rule matched above (the first matchConfigured check already
		// handles allow/block rules); default_deny with nothing matching
		// blocks outright.
		return classification{block: true, reason: "policy_default_deny"}
	}

	return classification{block: false, reason: "policy_default_allow"}
}

// matchConfigured evaluates host against the policy's ordered rule list.
// A pattern containing "/" is treated as a CIDR range and matched against
// host as a literal IP; otherwise it falls back to domain/wildcard
// matching via policy.MatchesWildcardDomain.
func matchConfigured(rules []uicp.WildcardRule, host string) (allow bool, matched bool) {
	ip := net.ParseIP(host)
	for _, r := range rules {
		if strings.Contains(r.Pattern, "/") {
			if ip == nil {
				continue
			}
			_, cidr, err := net.ParseCIDR(r.Pattern)
			if err != nil || !cidr.Contains(ip) {
				continue
			}
			return r.Allow, true
		}
		if ip != nil {
			if r.Pattern == host {
				return r.Allow, true
			}
			continue
		}
		if policy.MatchesWildcardDomain(r.Pattern, host) {
			return r.Allow, true
		}
	}
	return false, false
}

func isDoHEndpoint(host string) bool {
	lower := strings.ToLower(host)
	for _, d := range dohBlocklist {
		if lower == d {
			return true
		}
	}
	return false
}

func stripHostPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// classifySensitivity gives the block payload a human-readable resource
// category, pattern-matched against the request target the same way a
// comparable interception proxy classifies destructive/credential/
// payment-shaped tool arguments — first match in an ordered table wins.
var sensitivityPatterns = []struct {
	needle string
	label  string
}{
	{"login", "credential"},
	{"auth", "credential"},
	{"token", "credential"},
	{"password", "credential"},
	{"payment", "payment"},
	{"checkout", "payment"},
	{"billing", "payment"},
	{"admin", "sensitive"},
	{"delete", "destructive"},
	{"drop", "destructive"},
}

func classifySensitivity(target string) string {
	lower := strings.ToLower(target)
	for _, p := range sensitivityPatterns {
		if strings.Contains(lower, p.needle) {
			return p.label
		}
	}
	return "general"
}
