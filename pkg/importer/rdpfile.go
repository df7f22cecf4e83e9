package importer

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// RDPFileParser parses Windows .rdp connection files. Each file
// describes a single server. Relevant settings:
//
//	full address:s:host:port
//	username:s:user
//	server port:i:3389
//
// Files saved by mstsc are often UTF-16LE with a BOM.
type RDPFileParser struct{}

// Source returns the format this parser handles.
func (p *RDPFileParser) Source() Source {
	return SourceRDP
}

// Parse parses a single .rdp file.
func (p *RDPFileParser) Parse(data []byte) (*ImportResult, error) {
	result := &ImportResult{
		Servers:  make([]*ImportedServer, 0),
		Warnings: make([]string, 0),
		Skipped:  make([]SkippedItem, 0),
	}

	text, err := decodeRDPFile(data)
	if err != nil {
		return nil, err
	}

	var host, username string
	port := 0

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		// key:type:value with type 's' (string) or 'i' (integer)
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		key, kind, value := strings.ToLower(parts[0]), parts[1], parts[2]

		switch {
		case key == "full address" && kind == "s":
			host = value
			// host may carry a :port suffix
			if idx := strings.LastIndex(value, ":"); idx != -1 && !strings.Contains(value, "]") {
				if n, err := strconv.Atoi(value[idx+1:]); err == nil && n >= 1 && n <= 65535 {
					host = value[:idx]
					port = n
				}
			}
		case key == "username" && kind == "s":
			username = value
		case key == "server port" && kind == "i":
			if n, err := strconv.Atoi(value); err == nil && n >= 1 && n <= 65535 && port == 0 {
				port = n
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("importer: failed to read .rdp file: %w", err)
	}

	if IsEmptyOrWhitespace(host) {
		return nil, fmt.Errorf("importer: .rdp file has no 'full address' setting")
	}

	name := SanitizeName(host)
	result.Servers = append(result.Servers, &ImportedServer{
		Name:         name,
		OriginalName: host,
		Host:         host,
		Port:         port,
		Username:     username,
	})
	return result, nil
}

// decodeRDPFile converts the file content to UTF-8, handling the
// UTF-16LE encoding mstsc writes.
func decodeRDPFile(data []byte) (string, error) {
	if bytes.HasPrefix(data, []byte{0xFF, 0xFE}) || bytes.HasPrefix(data, []byte{0xFE, 0xFF}) {
		decoder := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		decoded, _, err := transform.Bytes(decoder, data)
		if err != nil {
			return "", fmt.Errorf("importer: failed to decode UTF-16 .rdp file: %w", err)
		}
		return string(decoded), nil
	}
	// Plain UTF-8/ASCII, possibly with a UTF-8 BOM
	return string(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})), nil
}
