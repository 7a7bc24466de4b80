package settings

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	apperrors "PluginHost/internal/errors"
)

// FileStore 以 v-conf 格式持久化配置：每个叶子节点形如
// {"type": "boolean", "value": true}，键的每一段对应一层对象。
type FileStore struct {
	mu   sync.Mutex
	path string
	doc  []byte
}

// NewFileStore 打开 path 指向的配置文件，文件不存在时从空文档开始。
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "配置文件路径为空")
	}
	doc, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		doc = []byte("{}")
	case err != nil:
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "读取配置文件失败",
			apperrors.WithMetadata("path", path))
	case len(strings.TrimSpace(string(doc))) == 0:
		doc = []byte("{}")
	case !gjson.ValidBytes(doc):
		return nil, apperrors.New(apperrors.CodeStorageFailure, "配置文件不是合法的 JSON",
			apperrors.WithMetadata("path", path))
	}
	return &FileStore{path: path, doc: doc}, nil
}

// Path 返回配置文件位置。
func (s *FileStore) Path() string { return s.path }

// Get 返回配置值，不存在时返回 nil。
func (s *FileStore) Get(_ context.Context, key string) (any, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	node := gjson.GetBytes(s.doc, jsonPath(key))
	if !node.Exists() {
		return nil, nil
	}
	if node.IsObject() {
		value := node.Get("value")
		if !value.Exists() {
			return nil, nil
		}
		return value.Value(), nil
	}
	return node.Value(), nil
}

// Set 写入配置值并立即落盘。
func (s *FileStore) Set(_ context.Context, key string, value any) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := sjson.SetBytes(s.doc, jsonPath(key), map[string]any{
		"type":  typeName(value),
		"value": value,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeCodecFailure, err, "写入配置值失败",
			apperrors.WithMetadata("key", key))
	}
	if err := s.flush(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func (s *FileStore) flush(doc []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "创建配置目录失败")
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "创建临时文件失败")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "写入配置文件失败")
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "写入配置文件失败")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "替换配置文件失败")
	}
	return nil
}

var segmentEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
	`:`, `\:`,
	`!`, `\!`,
)

// jsonPath 将点分隔的键转换为 gjson/sjson 路径，每一段中的通配符会被转义。
func jsonPath(key string) string {
	parts := strings.Split(key, ".")
	for i, p := range parts {
		parts[i] = segmentEscaper.Replace(p)
	}
	return strings.Join(parts, ".")
}

func typeName(value any) string {
	switch value.(type) {
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return "number"
	case []any, []string, []int, []float64:
		return "array"
	case nil:
		return "null"
	default:
		return "object"
	}
}
