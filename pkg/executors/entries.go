package executors

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/hostvault/hostvault/pkg/resolve"
)

// FileEntry is the typed view of a resolved files[] entry. Action scopes
// the entry to one direction; sync entries run in both.
type FileEntry struct {
	Name             string `json:"name"`
	Path             string `json:"path" validate:"required"`
	Type             string `json:"type,omitempty" validate:"omitempty,oneof=file directory"`
	Action           string `json:"action,omitempty" validate:"omitempty,oneof=backup restore sync"`
	DynamicStatePath string `json:"dynamic_state_path,omitempty"`
	Encrypt          bool   `json:"encrypt,omitempty"`
	Destination      string `json:"destination,omitempty"`
}

// RegistryEntry is the typed view of a resolved registry[] entry. Path is
// the hive plus subkey; KeyName narrows the entry to a single value.
type RegistryEntry struct {
	Name    string         `json:"name" validate:"required"`
	Path    string         `json:"path" validate:"required"`
	Type    string         `json:"type,omitempty" validate:"omitempty,oneof=key value"`
	KeyName string         `json:"key_name,omitempty"`
	Encrypt bool           `json:"encrypt,omitempty"`
	Value   any            `json:"value,omitempty"`
	Values  map[string]any `json:"values,omitempty"`
}

// StateKey returns the key the entry's data is stored under.
func (r *RegistryEntry) StateKey() string {
	if r.KeyName != "" {
		return r.Path + `\` + r.KeyName
	}
	return r.Path
}

// ApplicationEntry is the typed view of a resolved applications[] entry.
type ApplicationEntry struct {
	Name             string `json:"name" validate:"required"`
	Type             string `json:"type,omitempty"`
	DynamicStatePath string `json:"dynamic_state_path,omitempty"`
	DiscoveryCommand string `json:"discovery_command,omitempty"`
	ParseScript      string `json:"parse_script,omitempty"`
	InstallScript    string `json:"install_script,omitempty"`
	UninstallScript  string `json:"uninstall_script,omitempty"`
}

var entryValidator = validator.New()

// decodeEntry projects a resolved entry's free-form fields onto a typed
// view. Unknown fields pass through resolution untouched and are simply
// not part of the view.
func decodeEntry(entry *resolve.Entry, out any) error {
	data, err := json.Marshal(entry.Fields)
	if err != nil {
		return fmt.Errorf("entry %q: %w", entry.Key(), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("entry %q: %w", entry.Key(), err)
	}
	if err := entryValidator.Struct(out); err != nil {
		return fmt.Errorf("entry %q: %w", entry.Key(), err)
	}
	return nil
}

// DecodeFileEntry decodes a files[] entry. Action defaults to sync.
func DecodeFileEntry(entry *resolve.Entry) (*FileEntry, error) {
	var fe FileEntry
	if err := decodeEntry(entry, &fe); err != nil {
		return nil, err
	}
	if fe.Action == "" {
		fe.Action = "sync"
	}
	return &fe, nil
}

// DecodeRegistryEntry decodes a registry[] entry.
func DecodeRegistryEntry(entry *resolve.Entry) (*RegistryEntry, error) {
	var re RegistryEntry
	if err := decodeEntry(entry, &re); err != nil {
		return nil, err
	}
	return &re, nil
}

// DecodeApplicationEntry decodes an applications[] entry.
func DecodeApplicationEntry(entry *resolve.Entry) (*ApplicationEntry, error) {
	var ae ApplicationEntry
	if err := decodeEntry(entry, &ae); err != nil {
		return nil, err
	}
	return &ae, nil
}
