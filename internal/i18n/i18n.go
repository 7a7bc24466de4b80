package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

//go:embed locales/*.json
var locales embed.FS

// Catalog 按选定语言翻译文案，缺失的键回退到英文，仍缺失时返回键本身。
type Catalog struct {
	tag     language.Tag
	printer *message.Printer
	known   map[string]struct{}
}

// New 为 locale 选择最接近的受支持语言并构建翻译目录。
func New(locale string) (*Catalog, error) {
	builder := catalog.NewBuilder(catalog.Fallback(language.English))
	known := make(map[string]struct{})
	tags, err := load(builder, locales, known)
	if err != nil {
		return nil, err
	}

	matcher := language.NewMatcher(tags)
	desired, _, err := language.ParseAcceptLanguage(strings.ReplaceAll(locale, "_", "-"))
	if err != nil || len(desired) == 0 {
		desired = []language.Tag{language.English}
	}
	_, index, _ := matcher.Match(desired...)
	tag := tags[index]

	return &Catalog{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(builder)),
		known:   known,
	}, nil
}

// Language 返回实际使用的语言。
func (c *Catalog) Language() language.Tag { return c.tag }

// Translate 返回 key 对应的本地化文案。
func (c *Catalog) Translate(key string) string {
	if _, ok := c.known[key]; !ok {
		return key
	}
	return c.printer.Sprintf(key)
}

// load 读取 strings_<lang>.json，英文排在首位作为匹配默认值。
func load(builder *catalog.Builder, fsys fs.FS, known map[string]struct{}) ([]language.Tag, error) {
	files, err := fs.Glob(fsys, "locales/strings_*.json")
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		li, lj := langOf(files[i]), langOf(files[j])
		if li == "en" || lj == "en" {
			return li == "en" && lj != "en"
		}
		return li < lj
	})

	var tags []language.Tag
	for _, file := range files {
		tag, err := language.Parse(langOf(file))
		if err != nil {
			return nil, fmt.Errorf("解析语言 %s 失败: %w", file, err)
		}
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("读取 %s 失败: %w", file, err)
		}
		if !gjson.ValidBytes(content) {
			return nil, fmt.Errorf("%s 不是合法的 JSON", file)
		}
		var setErr error
		flatten("", gjson.ParseBytes(content), func(key, msg string) {
			if setErr == nil {
				setErr = builder.SetString(tag, key, msg)
			}
			known[key] = struct{}{}
		})
		if setErr != nil {
			return nil, setErr
		}
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("未找到任何语言文件")
	}
	return tags, nil
}

func flatten(prefix string, node gjson.Result, emit func(key, msg string)) {
	node.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		if prefix != "" {
			key = prefix + "." + key
		}
		if v.IsObject() {
			flatten(key, v, emit)
		} else {
			emit(key, v.String())
		}
		return true
	})
}

func langOf(file string) string {
	base := strings.TrimSuffix(path.Base(file), ".json")
	return strings.TrimPrefix(base, "strings_")
}
