// Package endpoint persists remote transcription endpoint settings for the
// current user. The file is rewritten on every mutation; the core is the only
// writer, so last-write-wins is sufficient.
package endpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Config is the persisted endpoint configuration.
type Config struct {
	EndpointURL   string `json:"endpoint_url"`
	APIKey        string `json:"api_key,omitempty"`
	SelectedModel string `json:"selected_model"`
	Language      string `json:"language,omitempty"`
}

type Store struct {
	path string
	log  *slog.Logger

	mu  sync.Mutex
	cfg Config
}

// DefaultPath places the file under the per-user config directory.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "scribe", "endpoint.json"), nil
}

// Open loads the endpoint config, starting from defaults when the file does
// not exist yet.
func Open(path string, log *slog.Logger) (*Store, error) {
	s := &Store{
		path: path,
		log:  log.With(slog.String("component", "endpoint-store")),
		cfg:  Config{SelectedModel: "whisper-1"},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read endpoint config: %w", err)
	}
	if err := json.Unmarshal(data, &s.cfg); err != nil {
		return nil, fmt.Errorf("parse endpoint config: %w", err)
	}
	return s, nil
}

func (s *Store) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Configure sets the endpoint URL and API key and rewrites the file.
func (s *Store) Configure(url, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.EndpointURL = url
	s.cfg.APIKey = apiKey
	return s.save()
}

func (s *Store) SetModel(model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.SelectedModel = model
	return s.save()
}

func (s *Store) SetLanguage(language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Language = language
	return s.save()
}

// save writes via a temp file and rename so a crash mid-write cannot corrupt
// the config.
func (s *Store) save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(s.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode endpoint config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "endpoint_*.json")
	if err != nil {
		return fmt.Errorf("temp config file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write endpoint config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close endpoint config: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace endpoint config: %w", err)
	}

	s.log.Debug("endpoint config saved", slog.String("path", s.path))
	return nil
}
