package plugin

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// RequiredConfigurationFile sits next to a plugin's bundled defaults and lists
// parameters every installed configuration must carry.
const RequiredConfigurationFile = "requiredConf.json"

// Provisioner installs plugin configuration files.
type Provisioner interface {
	// CopyIfMissing copies src to dest unless dest exists. It reports whether
	// a copy happened.
	CopyIfMissing(src, dest string) (bool, error)
	// ApplyRequiredParameters adds every parameter of spec missing from dest.
	ApplyRequiredParameters(spec, dest string) error
}

// FileProvisioner provisions JSON configuration files on the local disk.
type FileProvisioner struct {
	// FileMode applies to written files; zero means 0o644.
	FileMode fs.FileMode
}

func (p FileProvisioner) mode() fs.FileMode {
	if p.FileMode == 0 {
		return 0o644
	}
	return p.FileMode
}

// CopyIfMissing implements Provisioner.
func (p FileProvisioner) CopyIfMissing(src, dest string) (bool, error) {
	if _, err := os.Stat(dest); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", dest, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return false, fmt.Errorf("open bundled configuration: %w", err)
	}
	defer in.Close()
	if err := writeAtomic(dest, in, p.mode()); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyRequiredParameters implements Provisioner. Every leaf of spec whose
// path is absent from dest is copied over; values already present in dest
// are never changed.
func (p FileProvisioner) ApplyRequiredParameters(spec, dest string) error {
	required, err := os.ReadFile(spec)
	if err != nil {
		return fmt.Errorf("read required parameters: %w", err)
	}
	if !gjson.ValidBytes(required) {
		return fmt.Errorf("required parameters %s: invalid JSON", spec)
	}
	current, err := os.ReadFile(dest)
	if err != nil {
		return fmt.Errorf("read configuration: %w", err)
	}
	if len(strings.TrimSpace(string(current))) == 0 {
		current = []byte("{}")
	}
	if !gjson.ValidBytes(current) {
		return fmt.Errorf("configuration %s: invalid JSON", dest)
	}

	patched := string(current)
	changed := false
	var walkErr error
	walkLeaves(gjson.ParseBytes(required), "", func(path string, value gjson.Result) bool {
		if gjson.Get(patched, path).Exists() {
			return true
		}
		next, err := sjson.SetRaw(patched, path, value.Raw)
		if err != nil {
			walkErr = fmt.Errorf("set %s: %w", path, err)
			return false
		}
		patched = next
		changed = true
		return true
	})
	if walkErr != nil {
		return walkErr
	}
	if !changed {
		return nil
	}
	return writeAtomic(dest, strings.NewReader(patched), p.mode())
}

// walkLeaves visits every non-object value of node. Keys are escaped for
// gjson/sjson paths.
func walkLeaves(node gjson.Result, prefix string, fn func(path string, value gjson.Result) bool) bool {
	if !node.IsObject() {
		if prefix == "" {
			return true
		}
		return fn(prefix, node)
	}
	cont := true
	node.ForEach(func(key, value gjson.Result) bool {
		path := escapePathKey(key.String())
		if prefix != "" {
			path = prefix + "." + path
		}
		cont = walkLeaves(value, path, fn)
		return cont
	})
	return cont
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
	`:`, `\:`,
)

func escapePathKey(key string) string { return pathEscaper.Replace(key) }

func writeAtomic(dest string, r io.Reader, mode fs.FileMode) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create configuration folder: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dest, err)
	}
	return os.Rename(tmp.Name(), dest)
}
