package identity

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		wantOK  bool
		project string
		stack   string
		context string
	}{
		{"acme:web:login-flow", true, "acme", "web", "login-flow"},
		{"acme:web", true, "acme", "web", ""},
		{"acme", true, "acme", "", ""},
		{"acme:", true, "acme", "", ""},
		{"acme::", true, "acme", "", ""},
		{"acme::login", false, "", "", ""},
		{"", false, "", "", ""},
		{":", false, "", "", ""},
		{"a:b:c:d", false, "", "", ""},
		{"acme web", false, "", "", ""},
		{"acme/web", false, "", "", ""},
		{strings.Repeat("a", 65), false, "", "", ""},
		{strings.Repeat("a", 64), true, strings.Repeat("a", 64), "", ""},
		{"acme.web_v2-*", true, "acme.web_v2-*", "", ""},
	}

	for _, tc := range cases {
		got, ok := Parse(tc.in)
		if ok != tc.wantOK {
			t.Errorf("Parse(%q) ok = %v, want %v", tc.in, ok, tc.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if got.Project != tc.project || got.Stack != tc.stack || got.Context != tc.context {
			t.Errorf("Parse(%q) = %+v, want {%s %s %s}", tc.in, got, tc.project, tc.stack, tc.context)
		}
	}
}

func TestIdentityString(t *testing.T) {
	id := Identity{Project: "acme", Stack: "web", Context: "login"}
	if got := id.String(); got != "acme:web:login" {
		t.Errorf("String() = %q", got)
	}
	id2 := Identity{Project: "acme", Stack: "web"}
	if got := id2.String(); got != "acme:web" {
		t.Errorf("String() = %q", got)
	}
	id3 := Identity{Project: "acme"}
	if got := id3.String(); got != "acme" {
		t.Errorf("String() = %q", got)
	}
}

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"acme:web:login", "acme:web:login", true},
		{"acme:*:login", "acme:web:login", true},
		{"acme:*", "acme:web:login", true},
		{"acme", "acme:web:login", true},
		{"acme:web", "other:web:login", false},
		{"acme:web:login", "acme:web:signup", false},
		{"*:*:*", "acme:web:login", true},
	}

	for _, tc := range cases {
		if got := Match(tc.pattern, tc.subject); got != tc.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.pattern, tc.subject, got, tc.want)
		}
	}
}

func TestMatchAny(t *testing.T) {
	subjects := []string{"acme:web:login", "acme:api:billing"}
	if !MatchAny("acme:web:*", subjects) {
		t.Error("expected match on acme:web:*")
	}
	if MatchAny("other:*", subjects) {
		t.Error("expected no match on other:*")
	}
}
