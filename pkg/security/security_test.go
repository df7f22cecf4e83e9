package security

import (
	"testing"
)

func TestCheckPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     Strength
	}{
		{"empty", "", StrengthWeak},
		{"short", "abc1234", StrengthWeak},
		{"minimum", "abcd1234", StrengthFair},
		{"thirteen chars", "abcdefghijklm", StrengthFair},
		{"fourteen chars", "abcdefghijklmn", StrengthGood},
		{"twenty chars", "abcdefghijklmnopqrst", StrengthStrong},
		{"long passphrase", "correct horse battery staple", StrengthStrong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckPassword(tt.password); got != tt.want {
				t.Errorf("CheckPassword(%q) = %v, want %v", tt.password, got, tt.want)
			}
		})
	}
}

func TestStrengthString(t *testing.T) {
	tests := []struct {
		strength Strength
		want     string
	}{
		{StrengthWeak, "Weak"},
		{StrengthFair, "Fair"},
		{StrengthGood, "Good"},
		{StrengthStrong, "Strong"},
		{Strength(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.strength.String(); got != tt.want {
			t.Errorf("Strength(%d).String() = %q, want %q", tt.strength, got, tt.want)
		}
	}
}

func TestFindReuse(t *testing.T) {
	a, err := NewAnalyzer()
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}

	creds := []Credential{
		{Server: "web-01", Password: "shared-secret"},
		{Server: "web-02", Password: "shared-secret"},
		{Server: "db-01", Password: "unique-one"},
		{Server: "db-02", Password: "pair-secret"},
		{Server: "db-03", Password: "pair-secret"},
		{Server: "app-01", Password: "shared-secret"},
	}

	groups := a.FindReuse(creds)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}

	// Largest group first
	if groups[0].Count != 3 {
		t.Errorf("groups[0].Count = %d, want 3", groups[0].Count)
	}
	want := []string{"app-01", "web-01", "web-02"}
	for i, name := range want {
		if groups[0].Servers[i] != name {
			t.Errorf("groups[0].Servers[%d] = %q, want %q", i, groups[0].Servers[i], name)
		}
	}
	if groups[1].Count != 2 {
		t.Errorf("groups[1].Count = %d, want 2", groups[1].Count)
	}
}

func TestFindReuseNormalizesWhitespace(t *testing.T) {
	a, err := NewAnalyzer()
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}

	creds := []Credential{
		{Server: "a", Password: "secret"},
		{Server: "b", Password: "  secret  "},
	}
	groups := a.FindReuse(creds)
	if len(groups) != 1 || groups[0].Count != 2 {
		t.Errorf("whitespace-padded duplicates not grouped: %v", groups)
	}
}

func TestFindReuseSkipsEmpty(t *testing.T) {
	a, err := NewAnalyzer()
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}

	creds := []Credential{
		{Server: "a", Password: ""},
		{Server: "b", Password: ""},
	}
	if groups := a.FindReuse(creds); len(groups) != 0 {
		t.Errorf("empty passwords should not form a group: %v", groups)
	}
}

func TestFindWeak(t *testing.T) {
	creds := []Credential{
		{Server: "z-srv", Password: "short"},
		{Server: "a-srv", Password: "tiny"},
		{Server: "ok-srv", Password: "long-enough-password"},
		{Server: "empty-srv", Password: ""},
	}

	weak := FindWeak(creds)
	if len(weak) != 2 {
		t.Fatalf("got %d weak entries, want 2", len(weak))
	}
	// Sorted by server name
	if weak[0].Server != "a-srv" || weak[1].Server != "z-srv" {
		t.Errorf("weak = %v, want a-srv then z-srv", weak)
	}
	if weak[0].Length != 4 {
		t.Errorf("weak[0].Length = %d, want 4", weak[0].Length)
	}
}

func TestAnalyzerKeysDifferAcrossSessions(t *testing.T) {
	a1, err := NewAnalyzer()
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}
	a2, err := NewAnalyzer()
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}
	if a1.hashValue("secret") == a2.hashValue("secret") {
		t.Error("hashes should differ between sessions")
	}
}
