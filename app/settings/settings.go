package settings

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultFeedURL = "https://lowendtalk.com/discussions/feed.rss"

// AI holds the Workers AI classifier settings. Any blank field disables the
// classifier for the run.
type AI struct {
	Account string `yaml:"cf_account"`
	Token   string `yaml:"cf_token"`
	Model   string `yaml:"ai_model"`
	Prompt  string `yaml:"ns_prompt"`
}

// Complete reports whether every field needed for a classifier call is set.
func (a AI) Complete() bool {
	return strings.TrimSpace(a.Account) != "" &&
		strings.TrimSpace(a.Token) != "" &&
		strings.TrimSpace(a.Model) != "" &&
		strings.TrimSpace(a.Prompt) != ""
}

// Settings is the operator-controlled filter configuration. It is read once
// at the start of a run and passed by value through the pipeline.
type Settings struct {
	EnableKeyword bool     `yaml:"enable_keyword"`
	Keywords      string   `yaml:"keywords"`
	EnableAI      bool     `yaml:"enable_ai"`
	AI            AI       `yaml:",inline"`
	Feeds         []string `yaml:"feeds"`
}

// Sources returns the feeds to poll, falling back to the default feed.
func (s Settings) Sources() []string {
	var feeds []string
	for _, feed := range s.Feeds {
		if feed = strings.TrimSpace(feed); feed != "" {
			feeds = append(feeds, feed)
		}
	}

	if len(feeds) == 0 {
		return []string{DefaultFeedURL}
	}
	return feeds
}

func (s Settings) Validate() error {
	for i, feed := range s.Sources() {
		u, err := url.Parse(feed)
		if err != nil {
			return fmt.Errorf("invalid feed URL at index %d: %w", i, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid feed URL at index %d: scheme must be http or https", i)
		}
		if u.Host == "" {
			return fmt.Errorf("invalid feed URL at index %d: missing host", i)
		}
	}
	return nil
}

// Load reads settings from a YAML file. A missing file yields zero settings:
// keyword and AI filtering off, default feed.
func Load(path string) (Settings, error) {
	if path == "" {
		return Settings{}, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings file: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings %s: %w", path, err)
	}

	return s, nil
}

// Loader returns a function reading path on every call, so edits to the
// file take effect on the next run.
func Loader(path string) func() (Settings, error) {
	return func() (Settings, error) {
		return Load(path)
	}
}
