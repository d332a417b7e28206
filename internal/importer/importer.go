// Package importer extracts URL lists from uploaded or local files.
package importer

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrUnsupportedFormat is returned for extensions other than .txt, .csv and .json.
var ErrUnsupportedFormat = errors.New("unsupported import format")

// ParseFile reads path and returns its URLs in file order.
func ParseFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()
	return Parse(filepath.Base(path), f)
}

// Parse picks a format from name's extension. Lines without an extension are
// treated as plain text.
func Parse(name string, r io.Reader) ([]string, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case "", ".txt", ".list":
		return parseLines(r)
	case ".csv":
		return parseCSV(r)
	case ".json":
		return parseJSON(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func parseLines(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	return urls, nil
}

func parseCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	col := 0
	start := 0
	for i, field := range records[0] {
		if strings.EqualFold(strings.TrimSpace(field), "url") {
			col, start = i, 1
			break
		}
	}
	var urls []string
	for _, rec := range records[start:] {
		if col >= len(rec) {
			continue
		}
		if v := strings.TrimSpace(rec[col]); v != "" {
			urls = append(urls, v)
		}
	}
	return urls, nil
}

func parseJSON(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid json")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, errors.New("json import must be an array")
	}
	var urls []string
	for _, item := range root.Array() {
		var v string
		switch {
		case item.Type == gjson.String:
			v = item.String()
		case item.IsObject():
			v = item.Get("url").String()
		}
		if v = strings.TrimSpace(v); v != "" {
			urls = append(urls, v)
		}
	}
	return urls, nil
}
