package infra

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is a flat set of dotted keys read from a properties file.
type Config map[string]string

// ParseConfigFile reads "key=value" lines. Blank lines and lines starting with
// '#' are skipped. A missing file yields an empty config.
func ParseConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return nil, err
	}
	defer file.Close()

	return ParseConfig(file)
}

func ParseConfig(r io.Reader) (Config, error) {
	config := make(Config)
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("line %d: expected 'key=value', got %q", lineNo, line)
		}
		config[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c Config) String(key, defaultVal string) string {
	if v, ok := c[key]; ok && v != "" {
		return v
	}
	return defaultVal
}

func (c Config) Int(key string, defaultVal int) (int, error) {
	v, ok := c[key]
	if !ok || v == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return i, nil
}

func (c Config) Duration(key string, defaultVal time.Duration) (time.Duration, error) {
	v, ok := c[key]
	if !ok || v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// List splits a comma-separated value, dropping empty entries.
func (c Config) List(key string) []string {
	return ParseList(c[key])
}

func ParseList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// ParseAddressList parses an inline address list with the format "id=addr,id=addr,...".
func ParseAddressList(s string) (map[string]string, error) {
	addresses := make(map[string]string)
	for _, entry := range ParseList(s) {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid entry %q: expected 'id=address'", entry)
		}

		addresses[parts[0]] = parts[1]
	}
	return addresses, nil
}
