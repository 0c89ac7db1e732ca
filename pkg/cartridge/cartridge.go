// Package cartridge packs a memory store together with its identity and
// preference documents into a portable archive, and imports archives
// back with conflict resolution. An archive is a directory or a zip
// file; both are read through the same Source abstraction.
package cartridge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Cartridge is a live cartridge directory: core.json (identity and
// config, immutable by learning), preferences.json (user-learned
// overrides) and memory.db (the store backing file). Core and
// preferences are disjoint key sets; nothing in the import path ever
// writes into core.
type Cartridge struct {
	Dir string
}

// At returns the cartridge rooted at dir.
func At(dir string) Cartridge {
	return Cartridge{Dir: dir}
}

func (c Cartridge) CorePath() string        { return filepath.Join(c.Dir, CoreName) }
func (c Cartridge) PreferencesPath() string { return filepath.Join(c.Dir, PreferencesName) }
func (c Cartridge) StorePath() string       { return filepath.Join(c.Dir, StoreName) }
func (c Cartridge) AssetsPath() string      { return filepath.Join(c.Dir, AssetsDir) }

// HasStore reports whether the cartridge has a store backing file.
func (c Cartridge) HasStore() bool {
	info, err := os.Stat(c.StorePath())
	return err == nil && !info.IsDir()
}

// Preferences returns the user-learned preference document, or an empty
// map when the file does not exist yet.
func (c Cartridge) Preferences() (map[string]json.RawMessage, error) {
	return readKeyedDoc(c.PreferencesPath())
}

// WritePreferences replaces the preference document.
func (c Cartridge) WritePreferences(prefs map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("cartridge: encoding preferences: %w", err)
	}
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return fmt.Errorf("cartridge: creating cartridge directory: %w", err)
	}
	if err := os.WriteFile(c.PreferencesPath(), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("cartridge: writing preferences: %w", err)
	}
	return nil
}

// Core returns the identity document, or an empty map when absent.
func (c Cartridge) Core() (map[string]json.RawMessage, error) {
	return readKeyedDoc(c.CorePath())
}

func readKeyedDoc(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cartridge: reading %s: %w", filepath.Base(path), err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("cartridge: parsing %s: %w", filepath.Base(path), err)
	}
	return doc, nil
}

// mergePreferences folds archive keys into the target map. Existing
// target values always win; only keys the target has never learned are
// taken from the archive. Returns how many keys were adopted.
func mergePreferences(target, archive map[string]json.RawMessage) int {
	added := 0
	for k, v := range archive {
		if _, ok := target[k]; ok {
			continue
		}
		target[k] = v
		added++
	}
	return added
}
