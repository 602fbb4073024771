package capture

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		url   string
		kind  Kind
		match bool
	}{
		{"https://claude.ai/api/organizations/abc/usage", KindUsage, true},
		{"https://claude.ai/api/organizations/abc/prepaid_credits", KindCredits, true},
		{"https://claude.ai/api/account/overage_status", KindOverage, true},
		{"https://claude.ai/api/organizations/abc/spend_limit", KindOverage, true},
		{"https://claude.ai/api/organizations/abc/members", "", false},
		{"https://claude.ai/settings/usage", "", false}, // page load, not an API call
		{"https://cdn.example.com/usage.js", "", false},
	}
	for _, tc := range cases {
		kind, ok := Classify(tc.url)
		if ok != tc.match || kind != tc.kind {
			t.Errorf("Classify(%q)=(%q,%v), want (%q,%v)", tc.url, kind, ok, tc.kind, tc.match)
		}
	}
}

// Classification must pick exactly one kind per URL even when fragments of
// several shapes appear, with the specific shapes beating the generic usage
// fragment.
func TestClassify_MutuallyExclusive(t *testing.T) {
	kind, ok := Classify("https://claude.ai/api/usage/prepaid_credits")
	if !ok || kind != KindCredits {
		t.Fatalf("got (%q,%v), want credits", kind, ok)
	}
	kind, ok = Classify("https://claude.ai/api/usage/overage")
	if !ok || kind != KindOverage {
		t.Fatalf("got (%q,%v), want overage", kind, ok)
	}
}

func TestCache_FirstSeenWins(t *testing.T) {
	c := NewCache()

	if !c.Observe("https://claude.ai/api/org/1/usage", map[string]string{"X-One": "a"}) {
		t.Fatal("first usage URL not captured")
	}
	if c.Observe("https://claude.ai/api/org/2/usage", map[string]string{"X-Two": "b"}) {
		t.Fatal("second usage URL must be ignored")
	}

	ep, ok := c.Get(KindUsage)
	if !ok {
		t.Fatal("usage endpoint missing")
	}
	if ep.URL != "https://claude.ai/api/org/1/usage" {
		t.Fatalf("kept %q, want first URL", ep.URL)
	}
	if diff := cmp.Diff(map[string]string{"X-One": "a"}, ep.Headers); diff != "" {
		t.Fatalf("headers mismatch (-want +got):\n%s", diff)
	}
}

func TestCache_DropsTransportHeaders(t *testing.T) {
	c := NewCache()
	c.Observe("https://claude.ai/api/org/1/usage", map[string]string{
		"Cookie":         "sessionKey=secret",
		"Host":           "claude.ai",
		"Content-Length": "0",
		"Accept":         "application/json",
	})
	ep, _ := c.Get(KindUsage)
	want := map[string]string{"Accept": "application/json"}
	if diff := cmp.Diff(want, ep.Headers); diff != "" {
		t.Fatalf("headers mismatch (-want +got):\n%s", diff)
	}
}

func TestCache_Reset(t *testing.T) {
	c := NewCache()
	c.Observe("https://claude.ai/api/org/1/usage", nil)
	c.Reset()
	if _, ok := c.Get(KindUsage); ok {
		t.Fatal("cache retained endpoint across Reset")
	}
	if !c.Observe("https://claude.ai/api/org/2/usage", nil) {
		t.Fatal("cache must capture again after Reset")
	}
}
