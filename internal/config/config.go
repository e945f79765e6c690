// Package config loads the query configuration file.
//
// The file holds defaults that are layered over query.DefaultConfig, named
// routing profiles and per-tenant overrides:
//
//	defaults:
//	  token_budget: 8000
//	profiles:
//	  - name: legal
//	    remap: {simple_lookup: local}
//	tenants:
//	  acme:
//	    profile: legal
//	    config:
//	      main_beam: {beam_width: 20, max_hops: 4}
//
// Without a file every tenant runs on the defaults and the default profile.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/OFFIS-RIT/kiwi-query/internal/util"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-query/pkg/query"

	"gopkg.in/yaml.v3"
)

// ErrUnknownProfile is returned when a tenant or request names a profile
// that is neither built in nor defined in the file.
var ErrUnknownProfile = errors.New("unknown profile")

type file struct {
	Defaults yaml.Node                 `yaml:"defaults"`
	Profiles []query.Profile           `yaml:"profiles"`
	Tenants  map[string]tenantOverride `yaml:"tenants"`
}

type tenantOverride struct {
	Profile string    `yaml:"profile"`
	Config  yaml.Node `yaml:"config"`
}

// Settings is the parsed configuration file. It is immutable after Load.
type Settings struct {
	base     query.Config
	profiles map[string]query.Profile
	tenants  map[string]tenantOverride
}

// Default returns settings with no file behind them.
func Default() *Settings {
	return &Settings{
		base:     query.DefaultConfig(),
		profiles: builtinProfiles(),
		tenants:  map[string]tenantOverride{},
	}
}

func builtinProfiles() map[string]query.Profile {
	def := query.DefaultProfile()
	ha := query.HighAssuranceProfile()
	return map[string]query.Profile{def.Name: def, ha.Name: ha}
}

// LoadFromEnv reads the file named by QUERY_CONFIG_FILE, or returns the
// defaults when it is unset.
func LoadFromEnv() (*Settings, error) {
	path := util.GetEnv("QUERY_CONFIG_FILE")
	if path == "" {
		logger.Debug("[Config] QUERY_CONFIG_FILE not set, using defaults")
		return Default(), nil
	}
	return Load(path)
}

func Load(path string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open query config: %w", err)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Info("[Config] Loaded query config", "path", path, "profiles", len(s.profiles), "tenants", len(s.tenants))
	return s, nil
}

// Parse reads a configuration file from r. Every tenant override is
// resolved once so a broken entry fails here rather than on first use.
func Parse(r io.Reader) (*Settings, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var raw file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse query config: %w", err)
	}

	s := Default()
	if err := overlay(&s.base, &raw.Defaults); err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}
	if err := s.base.Validate(); err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}

	for _, p := range raw.Profiles {
		if p.Name == "" {
			return nil, errors.New("profile without a name")
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		s.profiles[p.Name] = p
	}

	if raw.Tenants != nil {
		s.tenants = raw.Tenants
	}
	for tenant := range s.tenants {
		if _, _, err := s.Resolve(tenant, ""); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// overlay decodes node over cfg, leaving keys absent from node untouched.
func overlay(cfg *query.Config, node *yaml.Node) error {
	if node == nil || node.Kind == 0 {
		return nil
	}
	return node.Decode(cfg)
}

// Resolve returns the configuration and profile a pipeline for tenant
// should be built with. An empty profile selects the tenant's configured
// profile, or the default one.
func (s *Settings) Resolve(tenant, profile string) (query.Config, query.Profile, error) {
	cfg := s.base
	override, ok := s.tenants[tenant]
	if ok {
		if err := overlay(&cfg, &override.Config); err != nil {
			return query.Config{}, query.Profile{}, fmt.Errorf("tenant %s: %w", tenant, err)
		}
		if err := cfg.Validate(); err != nil {
			return query.Config{}, query.Profile{}, fmt.Errorf("tenant %s: %w", tenant, err)
		}
	}

	name := profile
	if name == "" {
		name = override.Profile
	}
	if name == "" {
		name = query.DefaultProfile().Name
	}
	p, ok := s.profiles[name]
	if !ok {
		return query.Config{}, query.Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	return cfg, p, nil
}

// Profiles lists the known profile names in sorted order.
func (s *Settings) Profiles() []string {
	out := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
