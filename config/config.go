// Package config loads driver settings for firmware images that embed the
// ENET driver. Settings come from a single YAML document and are fixed for
// the lifetime of the driver: ring geometry cannot be renegotiated at
// runtime, so there is no reload machinery.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"
)

// C holds parsed settings and typed accessors over them.
type C struct {
	Settings map[string]any
	l        *logrus.Logger
}

func NewC(l *logrus.Logger) *C {
	return &C{
		Settings: make(map[string]any),
		l:        l,
	}
}

// Load reads and parses the YAML file at path.
func (c *C) Load(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return c.parse(b)
}

// LoadString parses raw as a YAML document.
func (c *C) LoadString(raw string) error {
	if raw == "" {
		return errors.New("empty configuration")
	}
	return c.parse([]byte(raw))
}

func (c *C) parse(b []byte) error {
	settings := make(map[string]any)
	if err := yaml.Unmarshal(b, &settings); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	c.Settings = settings
	return nil
}

// Get returns the value at the dotted path k, or nil when any part of the
// path is missing.
func (c *C) Get(k string) any {
	return c.get(k, c.Settings)
}

func (c *C) get(k string, v any) any {
	parts := strings.Split(k, ".")
	for _, p := range parts {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}

		v, ok = m[p]
		if !ok {
			return nil
		}
	}

	return v
}

// GetString returns the string for k or the default d if not found.
func (c *C) GetString(k, d string) string {
	r := c.Get(k)
	if r == nil {
		return d
	}

	return fmt.Sprintf("%v", r)
}

// GetInt returns the int for k or the default d if not found or invalid.
func (c *C) GetInt(k string, d int) int {
	r := c.GetString(k, strconv.Itoa(d))
	v, err := strconv.Atoi(r)
	if err != nil {
		return d
	}

	return v
}

// GetBool returns the bool for k or the default d if not found or invalid.
func (c *C) GetBool(k string, d bool) bool {
	r := strings.ToLower(c.GetString(k, fmt.Sprintf("%v", d)))
	v, err := strconv.ParseBool(r)
	if err != nil {
		switch r {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
		return d
	}

	return v
}
