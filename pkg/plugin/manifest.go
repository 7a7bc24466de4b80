package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ManifestFile is the descriptor file looked up in every candidate folder.
const ManifestFile = "package.json"

// DefaultBootPriority applies when a manifest does not declare one.
const DefaultBootPriority = 100

const maxManifestSize = 1 << 20

// Manifest is the subset of a plugin package descriptor the host consumes.
type Manifest struct {
	Name        string      `json:"name"`
	Version     string      `json:"version,omitempty"`
	Main        string      `json:"main,omitempty"`
	VolumioInfo VolumioInfo `json:"volumio_info"`
}

// VolumioInfo holds the host specific part of the descriptor.
type VolumioInfo struct {
	PluginType         string   `json:"plugin_type"`
	PrettyName         string   `json:"prettyName,omitempty"`
	BootPriority       *int     `json:"boot_priority,omitempty"`
	IsMyMusicPlugin    bool     `json:"is_my_music_plugin,omitempty"`
	ConfigurationFiles []string `json:"configuration_files,omitempty"`
}

// Category is the plugin type, the namespace the name is unique within.
func (m *Manifest) Category() string { return m.VolumioInfo.PluginType }

// Key returns the composite registry key.
func (m *Manifest) Key() string { return Key(m.Category(), m.Name) }

// Priority resolves the boot priority, falling back to DefaultBootPriority.
func (m *Manifest) Priority() int {
	if m.VolumioInfo.BootPriority == nil {
		return DefaultBootPriority
	}
	return *m.VolumioInfo.BootPriority
}

// Validate checks the identity fields.
func (m *Manifest) Validate() error {
	switch {
	case strings.TrimSpace(m.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidManifest)
	case strings.TrimSpace(m.Category()) == "":
		return fmt.Errorf("%w: volumio_info.plugin_type is required", ErrInvalidManifest)
	case strings.ContainsAny(m.Name, "./\\"):
		return fmt.Errorf("%w: name %q contains a path or key separator", ErrInvalidManifest, m.Name)
	case strings.ContainsAny(m.Category(), "./\\"):
		return fmt.Errorf("%w: plugin_type %q contains a path or key separator", ErrInvalidManifest, m.Category())
	}
	return nil
}

// ManifestReader reads the descriptor of a candidate folder. It returns
// ErrManifestNotFound when the folder has none and ErrInvalidManifest when
// it cannot be used.
type ManifestReader interface {
	ReadManifest(folder string) (*Manifest, error)
}

// JSONManifestReader reads package.json descriptors from disk.
type JSONManifestReader struct{}

// ReadManifest implements ManifestReader.
func (JSONManifestReader) ReadManifest(folder string) (*Manifest, error) {
	path := filepath.Join(folder, ManifestFile)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, maxManifestSize+1))
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	if len(raw) > maxManifestSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidManifest, path, maxManifestSize)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
