package backend

import (
	"fmt"

	"zev/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.BackendMode)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.BackendMode)
	}

	return Config{
		Type:          backendType,
		BaseURL:       appConfig.BackendURL,
		Timeout:       appConfig.BackendTimeout,
		SeedDirectory: appConfig.MemorySeedDir,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case RESTBackend:
		if c.BaseURL == "" {
			return fmt.Errorf("backend URL is required for rest backend")
		}
		if c.Timeout <= 0 {
			return fmt.Errorf("backend timeout must be positive for rest backend")
		}
	case MemoryBackend:
		// SeedDirectory may be empty or missing; the store then starts empty.
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{RESTBackend, MemoryBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
}
