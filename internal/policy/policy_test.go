package policy

import (
	"context"
	"testing"

	"github.com/uicp/runtime/pkg/uicp"
)

func TestPreset_DeepCopyIndependence(t *testing.T) {
	p1 := Preset(uicp.PresetBalanced)
	p1.Rules = append(p1.Rules, uicp.WildcardRule{Pattern: "evil.com", Allow: true})
	p2 := Preset(uicp.PresetBalanced)
	for _, r := range p2.Rules {
		if r.Pattern == "evil.com" {
			t.Fatal("mutating one preset copy leaked into another")
		}
	}
}

func TestMatchesWildcardDomain(t *testing.T) {
	cases := []struct {
		pattern, host string
		want          bool
	}{
		{"*.example.com", "api.example.com", true},
		{"*.example.com", "example.com", true},
		{"*.example.com", "evilexample.com", false},
		{"example.com", "example.com", true},
		{"example.com", "sub.example.com", false},
	}
	for _, c := range cases {
		if got := MatchesWildcardDomain(c.pattern, c.host); got != c.want {
			t.Errorf("MatchesWildcardDomain(%q,%q) = %v, want %v", c.pattern, c.host, got, c.want)
		}
	}
}

func TestIsPrivateHost(t *testing.T) {
	cases := []struct {
		host string
		want bool
	}{
		{"10.1.2.3", true},
		{"192.168.1.1", true},
		{"172.16.0.5", true},
		{"8.8.8.8", false},
		{"127.0.0.1", true},
		{"fe80::1", true},
		{"fc00::1", true},
		{"2001:4860:4860::8888", false},
		{"localhost", true},
	}
	for _, c := range cases {
		if got := IsPrivateHost(c.host); got != c.want {
			t.Errorf("IsPrivateHost(%q) = %v, want %v", c.host, got, c.want)
		}
	}
}

func TestStore_SetNotifiesSubscribers(t *testing.T) {
	s := NewStore(context.Background(), nil, uicp.PresetBalanced)
	ch, cancel := s.Subscribe()
	defer cancel()

	newPolicy := Preset(uicp.PresetLocked)
	if err := s.Set(context.Background(), newPolicy); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-ch:
		if got.Preset != uicp.PresetLocked {
			t.Fatalf("got %+v", got)
		}
	default:
		t.Fatal("expected synchronous notification")
	}
}

func TestMatchCustomExprs(t *testing.T) {
	exprs := []string{`Host == "api.internal.test" && Port == 8443`}
	env := map[string]interface{}{"Host": "api.internal.test", "Port": 8443}
	if !MatchCustomExprs(exprs, env) {
		t.Fatal("expected custom expr to match")
	}
	env["Port"] = 80
	if MatchCustomExprs(exprs, env) {
		t.Fatal("expected custom expr not to match")
	}
}
