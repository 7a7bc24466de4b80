package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// LoadPlan groups candidate folders by boot priority. Folders keep discovery
// order within a bucket.
type LoadPlan struct {
	buckets map[int][]string
}

// NewLoadPlan returns an empty plan.
func NewLoadPlan() *LoadPlan {
	return &LoadPlan{buckets: make(map[int][]string)}
}

// Add appends folder to the bucket of priority.
func (p *LoadPlan) Add(priority int, folder string) {
	if p.buckets == nil {
		p.buckets = make(map[int][]string)
	}
	p.buckets[priority] = append(p.buckets[priority], folder)
}

// Folders returns a copy of the bucket of priority.
func (p *LoadPlan) Folders(priority int) []string {
	if p == nil {
		return nil
	}
	return slices.Clone(p.buckets[priority])
}

// Priorities returns the populated priorities in ascending order.
func (p *LoadPlan) Priorities() []int {
	if p == nil {
		return nil
	}
	out := make([]int, 0, len(p.buckets))
	for prio := range p.buckets {
		out = append(out, prio)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of folders across all buckets.
func (p *LoadPlan) Len() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, folders := range p.buckets {
		n += len(folders)
	}
	return n
}

// MarshalJSON encodes the plan as {"<priority>": [folders...]}.
func (p *LoadPlan) MarshalJSON() ([]byte, error) {
	if p == nil || p.buckets == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.buckets)
}

// DiscoveryError records a folder that could not be inspected.
type DiscoveryError struct {
	Path string
	Err  error
}

func (e DiscoveryError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

func (e DiscoveryError) Unwrap() error { return e.Err }

// DiscoveryResult is the outcome of one discovery pass.
type DiscoveryResult struct {
	Plan   *LoadPlan
	Errors []DiscoveryError
}

// Discoverer walks search paths and builds a LoadPlan.
type Discoverer struct {
	manifests ManifestReader
	music     MusicSourceRegistrar
	logger    *slog.Logger
}

// NewDiscoverer builds a discoverer. A nil reader defaults to
// JSONManifestReader; a nil registrar drops music source reports.
func NewDiscoverer(reader ManifestReader, music MusicSourceRegistrar, logger *slog.Logger) *Discoverer {
	if reader == nil {
		reader = JSONManifestReader{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{manifests: reader, music: music, logger: logger}
}

// Discover inspects root/group/candidate folders. A missing root is skipped.
// Folders without a manifest are not plugins and are skipped silently; a
// manifest that cannot be used is skipped with a warning.
// Any other read failure is collected in the result; the pass itself always
// completes.
func (d *Discoverer) Discover(ctx context.Context, roots []string) *DiscoveryResult {
	res := &DiscoveryResult{Plan: NewLoadPlan()}
	for _, root := range roots {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, DiscoveryError{Path: root, Err: ctx.Err()})
			return res
		}
		groups, err := os.ReadDir(root)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				res.Errors = append(res.Errors, DiscoveryError{Path: root, Err: err})
			}
			continue
		}
		for _, group := range groups {
			groupPath := filepath.Join(root, group.Name())
			if !isDir(groupPath, group) {
				continue
			}
			candidates, err := os.ReadDir(groupPath)
			if err != nil {
				res.Errors = append(res.Errors, DiscoveryError{Path: groupPath, Err: err})
				continue
			}
			for _, candidate := range candidates {
				folder := filepath.Join(groupPath, candidate.Name())
				if !isDir(folder, candidate) {
					continue
				}
				d.inspect(folder, res)
			}
		}
	}
	for _, derr := range res.Errors {
		d.logger.Warn("plugin discovery skipped folder", slog.String("path", derr.Path), slog.Any("error", derr.Err))
	}
	return res
}

func (d *Discoverer) inspect(folder string, res *DiscoveryResult) {
	manifest, err := d.manifests.ReadManifest(folder)
	switch {
	case errors.Is(err, ErrManifestNotFound):
		d.logger.Debug("folder is not a plugin", slog.String("path", folder))
		return
	case errors.Is(err, ErrInvalidManifest):
		d.logger.Warn("plugin manifest rejected, skipping folder", slog.String("path", folder), slog.Any("error", err))
		return
	case err != nil:
		res.Errors = append(res.Errors, DiscoveryError{Path: folder, Err: err})
		return
	}
	res.Plan.Add(manifest.Priority(), folder)
	if manifest.VolumioInfo.IsMyMusicPlugin && d.music != nil {
		d.music.AddMusicSource(manifest)
	}
}

func isDir(path string, entry fs.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// MusicSource is a plugin registered as a browsable music source.
type MusicSource struct {
	Category   string `json:"category"`
	Name       string `json:"name"`
	PrettyName string `json:"prettyName,omitempty"`
}

// MusicSources is the default MusicSourceRegistrar. It keeps one entry per
// plugin key.
type MusicSources struct {
	mu      sync.RWMutex
	sources map[string]MusicSource
}

// NewMusicSources returns an empty registrar.
func NewMusicSources() *MusicSources {
	return &MusicSources{sources: make(map[string]MusicSource)}
}

// AddMusicSource implements MusicSourceRegistrar.
func (s *MusicSources) AddMusicSource(manifest *Manifest) {
	if manifest == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sources == nil {
		s.sources = make(map[string]MusicSource)
	}
	s.sources[manifest.Key()] = MusicSource{
		Category:   manifest.Category(),
		Name:       manifest.Name,
		PrettyName: manifest.VolumioInfo.PrettyName,
	}
}

// List returns the registered sources sorted by key.
func (s *MusicSources) List() []MusicSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.sources))
	for k := range s.sources {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]MusicSource, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.sources[k])
	}
	return out
}
