// Package importer provides parsers for importing server definitions
// from external formats. Supports generic CSV exports and Windows .rdp
// files.
package importer

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/mpontes/rdcred/pkg/registry"
)

// Source represents an import file format.
type Source string

const (
	SourceCSV Source = "csv"
	SourceRDP Source = "rdp"
)

// ImportedServer represents a server parsed from an external format.
type ImportedServer struct {
	// Name is the sanitized server name.
	Name string

	// OriginalName is the name before sanitization.
	OriginalName string

	// Host is the server hostname or IP address.
	Host string

	// Port is the RDP port, 0 when unspecified.
	Port int

	// Username is the login username, may be empty.
	Username string

	// Password is the plaintext password from the export, may be empty.
	// The caller encrypts it and must not persist it as-is.
	Password string
}

// ImportResult contains the results of an import operation.
type ImportResult struct {
	// Servers are the successfully parsed entries.
	Servers []*ImportedServer

	// Warnings are non-fatal issues encountered during parsing.
	Warnings []string

	// Skipped are items that were skipped with reasons.
	Skipped []SkippedItem
}

// SkippedItem represents an item that was skipped during import.
type SkippedItem struct {
	OriginalName string
	Reason       string
}

// Parser is the interface for import format parsers.
type Parser interface {
	// Parse parses the input data and returns imported servers.
	Parse(data []byte) (*ImportResult, error)

	// Source returns the format this parser handles.
	Source() Source
}

// GetParser returns a parser for the given source.
func GetParser(source Source) (Parser, error) {
	switch source {
	case SourceCSV:
		return &CSVParser{}, nil
	case SourceRDP:
		return &RDPFileParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported import source: %s", source)
	}
}

// ValidSources returns a list of valid source names.
func ValidSources() []string {
	return []string{string(SourceCSV), string(SourceRDP)}
}

// SanitizeName turns an external name into a valid server name:
// Unicode NFC, trimmed, control characters removed, truncated to the
// registry's maximum length.
func SanitizeName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))

	var b strings.Builder
	for _, r := range name {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	name = b.String()

	// Leading '.' and '-' are rejected by the registry
	name = strings.TrimLeft(name, ".-")

	if len(name) > registry.MaxNameLength {
		name = name[:registry.MaxNameLength]
	}
	return strings.TrimSpace(name)
}

// DeduplicateNames ensures all names are unique by appending numeric
// suffixes (_1, _2, and so on).
func DeduplicateNames(servers []*ImportedServer) {
	seen := make(map[string]int)
	for _, s := range servers {
		key := strings.ToLower(s.Name)
		count := seen[key]
		if count > 0 {
			s.Name = fmt.Sprintf("%s_%d", s.Name, count)
		}
		seen[key] = count + 1
	}
}

// FallbackName generates a name when the export row has none: the host
// when present, otherwise a counter-based placeholder.
func FallbackName(host string, counter int) string {
	if host != "" {
		return host
	}
	return fmt.Sprintf("imported_server_%d", counter)
}

// IsEmptyOrWhitespace checks if a string is empty or contains only
// whitespace.
func IsEmptyOrWhitespace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
