package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RecipeFile is the top-level YAML document: named recipes, each
// pairing one loader with its locators.
type RecipeFile struct {
	Recipes map[string]RecipeSpec `yaml:"recipes"`
}

// RecipeSpec declares one data source.
type RecipeSpec struct {
	Loader   LoaderSpec    `yaml:"loader"`
	Locators []LocatorSpec `yaml:"locators"`
}

// LoaderSpec declares the protocol side of a recipe.
type LoaderSpec struct {
	// Type is "http" or "sftp".
	Type string `yaml:"type"`

	// HTTP loader settings.
	Timeout        string            `yaml:"timeout,omitempty"`
	RateLimitRPS   float64           `yaml:"rate_limit_rps,omitempty"`
	MaxRetries     int               `yaml:"max_retries,omitempty"`
	DefaultHeaders map[string]string `yaml:"default_headers,omitempty"`
	CaptureBody    bool              `yaml:"capture_body,omitempty"`
	Auth           AuthSpec          `yaml:"auth,omitempty"`

	// SFTP loader settings.
	ConfigName      string     `yaml:"config_name,omitempty"`
	FilenamePattern string     `yaml:"filename_pattern,omitempty"`
	IgnoreHostKey   bool       `yaml:"ignore_host_key,omitempty"`
	Gates           []GateSpec `yaml:"gates,omitempty"`
}

// GateSpec declares one scheduling gate on an SFTP loader.
type GateSpec struct {
	// Type is "daily" or "interval".
	Type string `yaml:"type"`

	// Daily gate: local time "HH:MM" and whether a run already done
	// today is skipped on startup.
	TimeOfDay      string `yaml:"time_of_day,omitempty"`
	SkipIfRanToday bool   `yaml:"skip_if_ran_today,omitempty"`

	// Interval gate: minimum spacing between operation starts, plus
	// optional random jitter.
	Interval string `yaml:"interval,omitempty"`
	Jitter   string `yaml:"jitter,omitempty"`
}

// AuthSpec declares the HTTP auth mechanism.
type AuthSpec struct {
	// Type is "none", "basic", "bearer", or "oauth2".
	Type       string `yaml:"type"`
	ConfigName string `yaml:"config_name,omitempty"`
	TokenURL   string `yaml:"token_url,omitempty"`
}

// LocatorSpec declares one locator of a recipe.
type LocatorSpec struct {
	// Type is "directory", "filelist", "api", "paginated", "gapfill",
	// or "retry".
	Type string `yaml:"type"`

	// Scope namespaces persisted state. Required for filelist, api,
	// and retry; defaults derived elsewhere.
	Scope string `yaml:"scope,omitempty"`

	// Directory locator.
	Host      string `yaml:"host,omitempty"`
	RemoteDir string `yaml:"remote_dir,omitempty"`
	Pattern   string `yaml:"pattern,omitempty"`

	// Filelist / api locators.
	URLs    []string          `yaml:"urls,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`

	// Paginated / gapfill locators.
	BaseURL           string            `yaml:"base_url,omitempty"`
	DateStart         string            `yaml:"date_start,omitempty"`
	DateEnd           string            `yaml:"date_end,omitempty"`
	MaxRecordsPerPage int               `yaml:"max_records_per_page,omitempty"`
	RateLimitRPS      float64           `yaml:"rate_limit_rps,omitempty"`
	QueryParams       map[string]string `yaml:"query_params,omitempty"`
	CursorField       string            `yaml:"cursor_field,omitempty"`
	CountField        string            `yaml:"count_field,omitempty"`
	TotalField        string            `yaml:"total_field,omitempty"`
	MaxRecords        int               `yaml:"max_records,omitempty"`

	// Retry locator.
	MaxRetryCount int `yaml:"max_retry_count,omitempty"`
}

// LoadRecipes parses a YAML recipe file.
func LoadRecipes(path string) (*RecipeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe file: %w", err)
	}
	var rf RecipeFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse recipe file %s: %w", path, err)
	}
	if len(rf.Recipes) == 0 {
		return nil, fmt.Errorf("recipe file %s defines no recipes", path)
	}
	for name, spec := range rf.Recipes {
		if err := spec.validate(); err != nil {
			return nil, fmt.Errorf("recipe %s: %w", name, err)
		}
	}
	return &rf, nil
}

func (s RecipeSpec) validate() error {
	switch s.Loader.Type {
	case "http", "sftp":
	case "":
		return fmt.Errorf("loader type is required")
	default:
		return fmt.Errorf("unknown loader type %q", s.Loader.Type)
	}
	if len(s.Locators) == 0 {
		return fmt.Errorf("at least one locator is required")
	}
	for i, loc := range s.Locators {
		switch loc.Type {
		case "directory":
			if loc.RemoteDir == "" {
				return fmt.Errorf("locator %d: remote_dir is required", i)
			}
		case "filelist", "api":
			if loc.Scope == "" || len(loc.URLs) == 0 {
				return fmt.Errorf("locator %d: scope and urls are required", i)
			}
		case "paginated", "gapfill":
			if loc.BaseURL == "" || loc.DateStart == "" {
				return fmt.Errorf("locator %d: base_url and date_start are required", i)
			}
		case "retry":
			if loc.Scope == "" {
				return fmt.Errorf("locator %d: scope is required", i)
			}
		default:
			return fmt.Errorf("locator %d: unknown type %q", i, loc.Type)
		}
	}
	return nil
}
