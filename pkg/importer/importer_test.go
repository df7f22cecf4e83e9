package importer

import (
	"strings"
	"testing"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

func TestGetParser(t *testing.T) {
	for _, source := range []Source{SourceCSV, SourceRDP} {
		p, err := GetParser(source)
		if err != nil {
			t.Errorf("GetParser(%s) error = %v", source, err)
			continue
		}
		if p.Source() != source {
			t.Errorf("parser.Source() = %s, want %s", p.Source(), source)
		}
	}

	if _, err := GetParser(Source("keepass")); err == nil {
		t.Error("GetParser should reject unknown sources")
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "db-prod-01", "db-prod-01"},
		{"trimmed", "  db-01  ", "db-01"},
		{"control chars removed", "db\x00\x0701", "db01"},
		{"leading dot stripped", ".hidden", "hidden"},
		{"leading dash stripped", "--flag", "flag"},
		{"nfc normalization", "café", "café"},
		{"truncated", strings.Repeat("a", 200), strings.Repeat("a", 128)},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeName(tt.input); got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDeduplicateNames(t *testing.T) {
	servers := []*ImportedServer{
		{Name: "web"},
		{Name: "web"},
		{Name: "Web"},
		{Name: "db"},
	}
	DeduplicateNames(servers)

	if servers[0].Name != "web" {
		t.Errorf("servers[0].Name = %q, want web", servers[0].Name)
	}
	if servers[1].Name != "web_1" {
		t.Errorf("servers[1].Name = %q, want web_1", servers[1].Name)
	}
	if servers[2].Name != "Web_2" {
		t.Errorf("servers[2].Name = %q, want Web_2", servers[2].Name)
	}
	if servers[3].Name != "db" {
		t.Errorf("servers[3].Name = %q, want db", servers[3].Name)
	}
}

func TestCSVParse(t *testing.T) {
	data := []byte("name,host,port,username,password\n" +
		"db-prod,db.example.com,3390,admin,hunter2\n" +
		"web,web.example.com,,deploy,\n")

	p := &CSVParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(result.Servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(result.Servers))
	}

	first := result.Servers[0]
	if first.Name != "db-prod" || first.Host != "db.example.com" || first.Port != 3390 {
		t.Errorf("first server = %+v", first)
	}
	if first.Username != "admin" || first.Password != "hunter2" {
		t.Errorf("first server credentials = %q/%q", first.Username, first.Password)
	}

	second := result.Servers[1]
	if second.Port != 0 {
		t.Errorf("second server port = %d, want 0 (unspecified)", second.Port)
	}
	if second.Password != "" {
		t.Errorf("second server password = %q, want empty", second.Password)
	}
}

func TestCSVParseColumnOrderIndependent(t *testing.T) {
	data := []byte("password,host,name\nsecret,h.example.com,srv\n")

	p := &CSVParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(result.Servers) != 1 {
		t.Fatalf("got %d servers, want 1", len(result.Servers))
	}
	s := result.Servers[0]
	if s.Name != "srv" || s.Host != "h.example.com" || s.Password != "secret" {
		t.Errorf("server = %+v", s)
	}
}

func TestCSVParseMissingHostColumn(t *testing.T) {
	p := &CSVParser{}
	if _, err := p.Parse([]byte("name,username\nfoo,bar\n")); err == nil {
		t.Error("Parse should fail without a host column")
	}
}

func TestCSVParseSkipsEmptyHost(t *testing.T) {
	data := []byte("name,host\ngood,h1.example.com\nbad,\n")

	p := &CSVParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(result.Servers) != 1 {
		t.Errorf("got %d servers, want 1", len(result.Servers))
	}
	if len(result.Skipped) != 1 || result.Skipped[0].OriginalName != "bad" {
		t.Errorf("Skipped = %+v", result.Skipped)
	}
}

func TestCSVParseFallbackName(t *testing.T) {
	data := []byte("name,host\n,h1.example.com\n")

	p := &CSVParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(result.Servers) != 1 {
		t.Fatalf("got %d servers, want 1", len(result.Servers))
	}
	if result.Servers[0].Name != "h1.example.com" {
		t.Errorf("Name = %q, want host-derived fallback", result.Servers[0].Name)
	}
}

func TestCSVParseInvalidPortWarns(t *testing.T) {
	data := []byte("name,host,port\nsrv,h.example.com,notaport\n")

	p := &CSVParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(result.Servers) != 1 || result.Servers[0].Port != 0 {
		t.Fatalf("servers = %+v", result.Servers)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one entry", result.Warnings)
	}
}

func TestCSVParseStripsBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("name,host\nsrv,h.example.com\n")...)

	p := &CSVParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(result.Servers) != 1 {
		t.Errorf("got %d servers, want 1", len(result.Servers))
	}
}

func TestRDPFileParse(t *testing.T) {
	data := []byte("screen mode id:i:2\r\n" +
		"full address:s:ts.example.com:3390\r\n" +
		"username:s:CORP\\alice\r\n")

	p := &RDPFileParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(result.Servers) != 1 {
		t.Fatalf("got %d servers, want 1", len(result.Servers))
	}

	s := result.Servers[0]
	if s.Host != "ts.example.com" {
		t.Errorf("Host = %q, want ts.example.com", s.Host)
	}
	if s.Port != 3390 {
		t.Errorf("Port = %d, want 3390", s.Port)
	}
	if s.Username != "CORP\\alice" {
		t.Errorf("Username = %q", s.Username)
	}
	if s.Password != "" {
		t.Errorf("Password = %q, want empty (.rdp files never carry usable passwords)", s.Password)
	}
}

func TestRDPFileParseServerPortSetting(t *testing.T) {
	data := []byte("full address:s:ts.example.com\nserver port:i:13389\n")

	p := &RDPFileParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if result.Servers[0].Port != 13389 {
		t.Errorf("Port = %d, want 13389", result.Servers[0].Port)
	}
}

func TestRDPFileParseUTF16(t *testing.T) {
	text := "full address:s:ts.example.com\r\nusername:s:bob\r\n"
	encoder := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	data, _, err := transform.Bytes(encoder, []byte(text))
	if err != nil {
		t.Fatalf("failed to encode test data: %v", err)
	}

	p := &RDPFileParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(result.Servers) != 1 {
		t.Fatalf("got %d servers, want 1", len(result.Servers))
	}
	if result.Servers[0].Host != "ts.example.com" || result.Servers[0].Username != "bob" {
		t.Errorf("server = %+v", result.Servers[0])
	}
}

func TestRDPFileParseNoAddress(t *testing.T) {
	p := &RDPFileParser{}
	if _, err := p.Parse([]byte("screen mode id:i:2\n")); err == nil {
		t.Error("Parse should fail without a full address setting")
	}
}
