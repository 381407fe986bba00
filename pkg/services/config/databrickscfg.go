package config

import (
	"context"
	"fmt"

	sdkconfig "github.com/databricks/databricks-sdk-go/config"
	"gopkg.in/ini.v1"
)

// DatabricksProfile is one section of a .databrickscfg file.
type DatabricksProfile struct {
	Name     string
	Host     string
	Token    string
	HTTPPath string
}

func (p DatabricksProfile) SDKConfig() *sdkconfig.Config {
	return &sdkconfig.Config{
		Host:  p.Host,
		Token: p.Token,
	}
}

type Registry interface {
	GetProfiles(ctx context.Context) ([]string, error)
	GetProfile(ctx context.Context, profile string) (*DatabricksProfile, error)
}

type cfgRegistry struct {
	cfg *ini.File
}

func NewRegistry(path string) (Registry, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load databricks config: %w", err)
	}
	return &cfgRegistry{cfg: cfg}, nil
}

func (cr *cfgRegistry) GetProfiles(_ context.Context) ([]string, error) {
	var profiles []string
	for _, section := range cr.cfg.Sections() {
		if len(section.Keys()) > 0 {
			profiles = append(profiles, section.Name())
		}
	}
	return profiles, nil
}

func (cr *cfgRegistry) GetProfile(_ context.Context, profile string) (*DatabricksProfile, error) {
	section, err := cr.cfg.GetSection(profile)
	if err != nil {
		return nil, fmt.Errorf("profile %s not found", profile)
	}

	return &DatabricksProfile{
		Name:     profile,
		Host:     section.Key("host").String(),
		Token:    section.Key("token").String(),
		HTTPPath: section.Key("http_path").String(),
	}, nil
}

// ResolveDatabricks merges explicit settings over the named profile.
func ResolveDatabricks(ctx context.Context, cfg Databricks) (*DatabricksProfile, error) {
	profile := &DatabricksProfile{Name: cfg.Profile}
	if cfg.ConfigPath != "" {
		registry, err := NewRegistry(cfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		profile, err = registry.GetProfile(ctx, cfg.Profile)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Host != "" {
		profile.Host = cfg.Host
	}
	if cfg.Token != "" {
		profile.Token = cfg.Token
	}
	if profile.HTTPPath == "" {
		profile.HTTPPath = cfg.HTTPPath
	}
	if profile.Host == "" || profile.Token == "" {
		return nil, fmt.Errorf("databricks host and token are required")
	}
	return profile, nil
}
