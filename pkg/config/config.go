// Package config loads YAML configuration files.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at the given path into conf.
//
// Unknown fields are rejected. If expandEnv is true, environment variables
// in the file are expanded before parsing, where '${VAR:default}' uses the
// default if VAR is unset or empty.
func Load(conf interface{}, path string, expandEnv bool) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %s: %w", path, err)
	}

	if expandEnv {
		buf = []byte(os.Expand(string(buf), expandVar))
	}

	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)

	if err := dec.Decode(conf); err != nil {
		return fmt.Errorf("parse config: %s: %w", path, err)
	}

	return nil
}

func expandVar(s string) string {
	name, def, hasDefault := strings.Cut(s, ":")
	if v := os.Getenv(name); v != "" || !hasDefault {
		return v
	}
	return def
}
