// internal/config/hosts.go - hosts file parsing
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadHostsFile parses a hosts file with one "hostname,address" pair per
// line. Blank lines and lines starting with # are skipped. Malformed lines
// are collected as errors and do not abort the load; only a file-level
// failure is returned as err.
func LoadHostsFile(path string) ([]HostConfig, []error, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open hosts file: %w", err)
	}
	defer file.Close()

	var hosts []HostConfig
	var errs []error

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) != 2 {
			errs = append(errs, fmt.Errorf("%s:%d: expected 'hostname,address'", path, lineNum))
			continue
		}

		host := HostConfig{
			Hostname: strings.TrimSpace(parts[0]),
			Address:  strings.TrimSpace(parts[1]),
		}
		if err := validateHost(host); err != nil {
			errs = append(errs, fmt.Errorf("%s:%d: %w", path, lineNum, err))
			continue
		}

		hosts = append(hosts, host)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs, fmt.Errorf("failed to read hosts file: %w", err)
	}

	return hosts, errs, nil
}
