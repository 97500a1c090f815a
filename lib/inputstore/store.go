// Package inputstore persists per-carrier tracking number lists, so a
// batch can be re-queried later without retyping it.
package inputstore

import (
	"encoding/json"
	"os"

	"github.com/titanous/json5"
)

const DefaultPath = "saved_numbers.json"

type Store struct {
	Path string
}

func New(path string) Store {
	if path == "" {
		path = DefaultPath
	}
	return Store{Path: path}
}

// Load reads the saved lists keyed by carrier name. A missing file is
// an empty store, not an error.
func (s Store) Load() (map[string][]string, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return map[string][]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	saved := map[string][]string{}
	err = json5.Unmarshal(data, &saved)
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s Store) Save(saved map[string][]string) error {
	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path, data, 0600)
}

// Get returns the saved list for one carrier, nil when none exists.
func (s Store) Get(carrier string) ([]string, error) {
	saved, err := s.Load()
	if err != nil {
		return nil, err
	}
	return saved[carrier], nil
}

// Put replaces the saved list for one carrier and writes the store.
func (s Store) Put(carrier string, trackingNumbers []string) error {
	saved, err := s.Load()
	if err != nil {
		return err
	}
	saved[carrier] = trackingNumbers
	return s.Save(saved)
}
