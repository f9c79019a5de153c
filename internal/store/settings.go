package store

import "context"

// SettingsStore handles process-wide settings.
type SettingsStore struct {
	store *Store
}

// NewSettingsStore creates a new SettingsStore.
func NewSettingsStore(s *Store) *SettingsStore {
	return &SettingsStore{store: s}
}

// Get retrieves a setting value, "" if absent.
func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	row, err := s.store.Get(ctx, TableSettings, "", Row{"key": key}, true)
	if err != nil || row == nil {
		return "", err
	}
	return rowString(row, "value"), nil
}

// Set stores a setting value.
func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	return s.store.Upsert(ctx, TableSettings, "", Row{
		"key":   key,
		"value": value,
	})
}

// SetWithDescription stores a setting value with a description.
func (s *SettingsStore) SetWithDescription(ctx context.Context, key, value, description string) error {
	return s.store.Upsert(ctx, TableSettings, "", Row{
		"key":         key,
		"value":       value,
		"description": nullString(description),
	})
}

// GetWithDefault retrieves a setting with a default fallback.
func (s *SettingsStore) GetWithDefault(ctx context.Context, key, defaultVal string) string {
	val, err := s.Get(ctx, key)
	if err != nil || val == "" {
		return defaultVal
	}
	return val
}

// GetBool retrieves a boolean setting.
func (s *SettingsStore) GetBool(ctx context.Context, key string, defaultVal bool) bool {
	val, err := s.Get(ctx, key)
	if err != nil || val == "" {
		return defaultVal
	}
	return val == "true" || val == "1"
}

// SetBool stores a boolean setting.
func (s *SettingsStore) SetBool(ctx context.Context, key string, value bool) error {
	v := "false"
	if value {
		v = "true"
	}
	return s.Set(ctx, key, v)
}
