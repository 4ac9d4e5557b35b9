package netguard

import (
	"testing"

	"github.com/uicp/runtime/internal/policy"
	"github.com/uicp/runtime/pkg/uicp"
)

func lockedPolicy() *uicp.Policy {
	return policy.Preset(uicp.PresetLocked)
}

func TestShouldBlockHost_DoTPortAlwaysBlocks(t *testing.T) {
	cls := shouldBlockHost(lockedPolicy(), "example.com", 853)
	if !cls.block || cls.reason != "dot_port_blocked" {
		t.Fatalf("expected dot_port_blocked, got %+v", cls)
	}
}

func TestShouldBlockHost_LoopbackLabelsAlwaysAllowed(t *testing.T) {
	for _, host := range []string{"localhost", "127.0.0.1", "::1"} {
		cls := shouldBlockHost(lockedPolicy(), host, 0)
		if cls.block {
			t.Fatalf("expected %s to be allowed as loopback, got %+v", host, cls)
		}
	}
}

func TestShouldBlockHost_ConfiguredAllowRuleWinsOverDoHBlocklist(t *testing.T) {
	p := lockedPolicy()
	p.Rules = []uicp.WildcardRule{{Pattern: "1.1.1.1", Allow: true}}
	cls := shouldBlockHost(p, "1.1.1.1", 0)
	if cls.block {
		t.Fatalf("expected explicit allow rule to win, got %+v", cls)
	}
}

func TestShouldBlockHost_DefaultDoHBlocklistBlocked(t *testing.T) {
	cls := shouldBlockHost(lockedPolicy(), "8.8.8.8", 0)
	if !cls.block || cls.reason != "doh_endpoint_blocked" {
		t.Fatalf("expected doh_endpoint_blocked, got %+v", cls)
	}
}

func TestShouldBlockHost_PrivateRangeDenyReportsIPPrivate(t *testing.T) {
	p := lockedPolicy() // AllowPrivateLAN: "deny"
	cls := shouldBlockHost(p, "10.1.2.3", 0)
	if !cls.block || cls.reason != "ip_private" {
		t.Fatalf("expected ip_private, got %+v", cls)
	}
}

func TestShouldBlockHost_PrivateRangeIPv6DenyReportsIPv6Private(t *testing.T) {
	p := lockedPolicy()
	cls := shouldBlockHost(p, "fd00::1", 0)
	if !cls.block || cls.reason != "ip_v6_private" {
		t.Fatalf("expected ip_v6_private, got %+v", cls)
	}
}

func TestShouldBlockHost_PrivateRangeAskReportsPrivateLanBlocked(t *testing.T) {
	p := policy.Preset(uicp.PresetBalanced) // AllowPrivateLAN: "ask"
	cls := shouldBlockHost(p, "192.168.1.5", 0)
	if !cls.block || cls.reason != "private_lan_blocked" {
		t.Fatalf("expected private_lan_blocked, got %+v", cls)
	}
}

func TestShouldBlockHost_PrivateRangeAllowPasses(t *testing.T) {
	p := policy.Preset(uicp.PresetOpen) // AllowPrivateLAN: "allow"
	cls := shouldBlockHost(p, "10.0.0.1", 0)
	if cls.block {
		t.Fatalf("expected private range allowed, got %+v", cls)
	}
}

func TestShouldBlockHost_IPLiteralsDisallowedBlocksEvenPublicIP(t *testing.T) {
	p := lockedPolicy()
	p.AllowIPLiterals = false
	cls := shouldBlockHost(p, "93.184.216.34", 0)
	if !cls.block || cls.reason != "ip_literals_disallowed" {
		t.Fatalf("expected ip_literals_disallowed, got %+v", cls)
	}
}

func TestShouldBlockHost_DefaultDenyWithNoMatchingRuleBlocks(t *testing.T) {
	cls := shouldBlockHost(lockedPolicy(), "example.com", 0)
	if !cls.block || cls.reason != "policy_default_deny" {
		t.Fatalf("expected policy_default_deny, got %+v", cls)
	}
}

func TestShouldBlockHost_DefaultAllowModePasses(t *testing.T) {
	cls := shouldBlockHost(policy.Preset(uicp.PresetOpen), "example.com", 0)
	if cls.block {
		t.Fatalf("expected default_allow mode to pass unmatched host, got %+v", cls)
	}
}
