package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CSVParser parses generic CSV exports with a header row. Recognized
// columns: name, host, port, username, password. Only host is
// required.
type CSVParser struct{}

// CSV column names (header-based parsing).
const (
	csvColName     = "name"
	csvColHost     = "host"
	csvColPort     = "port"
	csvColUsername = "username"
	csvColPassword = "password"
)

// Source returns the format this parser handles.
func (p *CSVParser) Source() Source {
	return SourceCSV
}

// Parse parses CSV data.
func (p *CSVParser) Parse(data []byte) (*ImportResult, error) {
	result := &ImportResult{
		Servers:  make([]*ImportedServer, 0),
		Warnings: make([]string, 0),
		Skipped:  make([]SkippedItem, 0),
	}

	// Strip UTF-8 BOM if present
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true // Handle malformed exports

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("importer: failed to read CSV header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := colIndex[csvColHost]; !ok {
		return nil, fmt.Errorf("importer: missing required column: %s", csvColHost)
	}

	itemCounter := 1
	rowNum := 1 // header is row 1
	for {
		rowNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}

		cell := func(col string) string {
			idx, ok := colIndex[col]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		host := cell(csvColHost)
		originalName := cell(csvColName)
		if IsEmptyOrWhitespace(host) {
			result.Skipped = append(result.Skipped, SkippedItem{
				OriginalName: originalName,
				Reason:       "empty host",
			})
			continue
		}

		if IsEmptyOrWhitespace(originalName) {
			originalName = FallbackName(host, itemCounter)
		}
		itemCounter++

		name := SanitizeName(originalName)
		if name == "" {
			result.Skipped = append(result.Skipped, SkippedItem{
				OriginalName: originalName,
				Reason:       "name empty after sanitization",
			})
			continue
		}

		port := 0
		if portStr := cell(csvColPort); portStr != "" {
			port, err = strconv.Atoi(portStr)
			if err != nil || port < 1 || port > 65535 {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("row %d: invalid port %q, using default", rowNum, portStr))
				port = 0
			}
		}

		result.Servers = append(result.Servers, &ImportedServer{
			Name:         name,
			OriginalName: originalName,
			Host:         host,
			Port:         port,
			Username:     cell(csvColUsername),
			Password:     cell(csvColPassword),
		})
	}

	DeduplicateNames(result.Servers)
	return result, nil
}
