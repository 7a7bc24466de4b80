package settings

import (
	"encoding/json"
	"strings"

	apperrors "PluginHost/internal/errors"
)

// encodeValue 将任意值编码为 JSON 文本。
func encodeValue(key string, value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeCodecFailure, err, "编码配置值失败",
			apperrors.WithMetadata("key", key))
	}
	return string(raw), nil
}

// decodeValue 将 JSON 文本解码为 bool、float64、string、[]any、map[string]any 或 nil。
func decodeValue(key, raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCodecFailure, err, "解码配置值失败",
			apperrors.WithMetadata("key", key))
	}
	return value, nil
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") || strings.Contains(key, "..") {
		return apperrors.New(apperrors.CodeInvalidArgument, "配置键非法",
			apperrors.WithMetadata("key", key))
	}
	return nil
}
