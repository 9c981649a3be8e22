// Package config manages pdsctl profiles: the service URL, handle and
// persisted session of each account, stored as YAML with the session tokens
// encrypted at rest.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lucid-softworks/akari/internal/interfaces"
	"github.com/lucid-softworks/akari/internal/logging"
	"github.com/lucid-softworks/akari/internal/session"
)

const (
	appName = "akari"

	// DefaultProfile is created on first use and cannot be deleted.
	DefaultProfile = "default"

	// DefaultService is the service URL of the default profile.
	DefaultService = "https://bsky.social"
)

// Config represents the complete configuration file structure
type Config struct {
	Profiles map[string]interfaces.Profile `yaml:"profiles"`
}

// Manager implements interfaces.ConfigManager. It is safe for concurrent use,
// so SaveSession can be registered as a session listener directly.
type Manager struct {
	mu           sync.Mutex
	configPath   string
	securityMgr  SecurityManager
	cachedConfig *Config
	logger       *logging.Logger
}

var _ interfaces.ConfigManager = (*Manager)(nil)

// NewManager creates a configuration manager using the XDG config and data
// directories.
func NewManager() (*Manager, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to determine configuration path: %w", err)
	}
	securityMgr, err := NewSecurityManager("")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize security manager: %w", err)
	}
	return NewManagerAt(configPath, securityMgr)
}

// NewManagerAt creates a configuration manager for an explicit file.
func NewManagerAt(configPath string, securityMgr SecurityManager) (*Manager, error) {
	if securityMgr == nil {
		return nil, fmt.Errorf("securityMgr cannot be nil")
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create configuration directory: %w", err)
	}
	return &Manager{
		configPath:  configPath,
		securityMgr: securityMgr,
		logger:      logging.GetConfigLogger(),
	}, nil
}

// getConfigPath determines the OS-appropriate configuration file path
func getConfigPath() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, appName, "profiles.yaml"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", appName, "profiles.yaml"), nil
}

// loadConfig reads and parses the configuration file, creating defaults if
// necessary. Callers hold m.mu.
func (m *Manager) loadConfig() (*Config, error) {
	if m.cachedConfig != nil {
		return m.cachedConfig, nil
	}

	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		config := createDefaultConfig()
		if err := m.saveConfig(config); err != nil {
			return nil, fmt.Errorf("failed to create default configuration: %w", err)
		}
		m.cachedConfig = config
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file: %w", err)
	}
	if config.Profiles == nil {
		config.Profiles = make(map[string]interfaces.Profile)
	}

	for name, profile := range config.Profiles {
		if profile.Session == nil {
			continue
		}
		decrypted, err := m.transformSession(*profile.Session, m.securityMgr.DecryptCredential)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt session for profile %s: %w", name, err)
		}
		profile.Session = &decrypted
		config.Profiles[name] = profile
	}

	m.cachedConfig = &config
	return &config, nil
}

// saveConfig writes the configuration to disk with encrypted tokens
func (m *Manager) saveConfig(config *Config) error {
	configCopy := Config{Profiles: make(map[string]interfaces.Profile, len(config.Profiles))}

	for name, profile := range config.Profiles {
		profileCopy := profile
		if profile.Session != nil {
			encrypted, err := m.transformSession(*profile.Session, m.securityMgr.EncryptCredential)
			if err != nil {
				return fmt.Errorf("failed to encrypt session for profile %s: %w", name, err)
			}
			profileCopy.Session = &encrypted
		}
		configCopy.Profiles[name] = profileCopy
	}

	data, err := yaml.Marshal(&configCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	// Write to a sibling file and rename so a crash never leaves a torn file.
	tmp := m.configPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	if err := os.Rename(tmp, m.configPath); err != nil {
		return fmt.Errorf("failed to replace configuration file: %w", err)
	}
	return nil
}

func (m *Manager) transformSession(s interfaces.Session, fn func(string) (string, error)) (interfaces.Session, error) {
	var err error
	if s.AccessToken != "" {
		if s.AccessToken, err = fn(s.AccessToken); err != nil {
			return s, fmt.Errorf("access token: %w", err)
		}
	}
	if s.RefreshToken != "" {
		if s.RefreshToken, err = fn(s.RefreshToken); err != nil {
			return s, fmt.Errorf("refresh token: %w", err)
		}
	}
	return s, nil
}

func createDefaultConfig() *Config {
	return &Config{
		Profiles: map[string]interfaces.Profile{
			DefaultProfile: {
				Name:    DefaultProfile,
				Service: DefaultService,
			},
		},
	}
}

// LoadProfile retrieves a profile by name from the configuration file
func (m *Manager) LoadProfile(name string) (*interfaces.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.LogConfigLoad(m.configPath, name)

	config, err := m.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	profile, exists := config.Profiles[name]
	if !exists {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}
	profile.Name = name

	if err := m.ValidateProfile(&profile); err != nil {
		return nil, fmt.Errorf("profile '%s' is invalid: %w", name, err)
	}

	if profile.Session != nil {
		s := *profile.Session
		profile.Session = &s
	}
	return &profile, nil
}

// SaveProfile persists a profile to the configuration file
func (m *Manager) SaveProfile(profile *interfaces.Profile) error {
	if err := m.ValidateProfile(profile); err != nil {
		return fmt.Errorf("cannot save invalid profile: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	normalized, _ := session.NormalizeBaseURL(profile.Service)
	stored := *profile
	stored.Service = normalized
	if profile.Session != nil {
		s := *profile.Session
		stored.Session = &s
	}
	config.Profiles[profile.Name] = stored

	if err := m.saveConfig(config); err != nil {
		m.cachedConfig = nil
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	return nil
}

// SaveSession replaces the persisted session of a profile. The profile must
// already exist.
func (m *Manager) SaveSession(profileName string, s interfaces.Session) error {
	if !s.HasTokens() {
		return fmt.Errorf("cannot persist a session without tokens")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	profile, exists := config.Profiles[profileName]
	if !exists {
		return fmt.Errorf("profile '%s' not found", profileName)
	}
	profile.Session = &s
	if s.Handle != "" {
		profile.Handle = s.Handle
	}
	config.Profiles[profileName] = profile

	if err := m.saveConfig(config); err != nil {
		m.cachedConfig = nil
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	m.logger.Debug("Persisted session", "profile", profileName, "did", s.DID)
	return nil
}

// ClearSession removes the persisted session of a profile.
func (m *Manager) ClearSession(profileName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	profile, exists := config.Profiles[profileName]
	if !exists {
		return fmt.Errorf("profile '%s' not found", profileName)
	}
	profile.Session = nil
	config.Profiles[profileName] = profile

	if err := m.saveConfig(config); err != nil {
		m.cachedConfig = nil
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	return nil
}

// SessionListener returns a listener that persists every session change to
// profileName. Failures are logged; the session path never sees them.
func (m *Manager) SessionListener(profileName string) interfaces.SessionListener {
	return func(s interfaces.Session) {
		if err := m.SaveSession(profileName, s); err != nil {
			m.logger.Error("Failed to persist session", "profile", profileName, "error", err.Error())
		}
	}
}

// ListProfiles returns all available profile names in sorted order
func (m *Manager) ListProfiles() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	names := make([]string, 0, len(config.Profiles))
	for name := range config.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteProfile removes a profile from the configuration
func (m *Manager) DeleteProfile(name string) error {
	if name == DefaultProfile {
		return fmt.Errorf("cannot delete the default profile")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if _, exists := config.Profiles[name]; !exists {
		return fmt.Errorf("profile '%s' does not exist", name)
	}
	delete(config.Profiles, name)

	if err := m.saveConfig(config); err != nil {
		m.cachedConfig = nil
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	return nil
}

// ValidateProfile ensures profile has all required fields
func (m *Manager) ValidateProfile(profile *interfaces.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile cannot be nil")
	}
	if strings.TrimSpace(profile.Name) == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if strings.ContainsAny(profile.Name, " \t\n/") {
		return fmt.Errorf("profile name cannot contain whitespace or slashes")
	}
	if _, err := session.NormalizeBaseURL(profile.Service); err != nil {
		return fmt.Errorf("invalid service: %w", err)
	}
	if profile.Session != nil && !profile.Session.HasTokens() {
		return fmt.Errorf("persisted session is missing its tokens")
	}
	return nil
}

// GetConfigPath returns the path to the configuration file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// InvalidateCache clears the cached configuration, forcing a reload on next access
func (m *Manager) InvalidateCache() {
	m.mu.Lock()
	m.cachedConfig = nil
	m.mu.Unlock()
}
