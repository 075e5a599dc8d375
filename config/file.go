package config

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// LoadFile reads parameters from path and returns a validated Config.
// The format is chosen by extension: .yaml/.yml, .toml, anything else is read as
// LightGBM key=value lines.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	params, err := ParseParams(filepath.Ext(path), data)
	if err != nil {
		return nil, err
	}
	return FromMap(params)
}

// ParseParams decodes raw parameter data of the given format (".yaml", ".toml"
// or ".conf") into a loosely typed map suitable for FromMap.
func ParseParams(format string, data []byte) (map[string]any, error) {
	params := make(map[string]any)
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &params); err != nil {
			return nil, errors.NewConfigError("config_file", "invalid yaml: "+err.Error(), nil)
		}
	case "toml":
		if err := toml.Unmarshal(data, &params); err != nil {
			return nil, errors.NewConfigError("config_file", "invalid toml: "+err.Error(), nil)
		}
	default:
		conf, err := parseConf(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		params = conf
	}
	return params, nil
}

// parseConf reads "key = value" lines; '#' starts a comment.
func parseConf(r io.Reader) (map[string]any, error) {
	params := make(map[string]any)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, errors.NewConfigError("config_file", "expected key=value", lineNo)
		}
		params[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan config")
	}
	return params, nil
}
