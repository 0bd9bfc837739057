package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// applyEnv 用 PREFIX_SECTION_KEY 形式的环境变量覆盖配置。
// SECTION 与 KEY 取自 yaml 标签的大写形式，例如 server.http_port
// 对应 NODEFLOW_SERVER_HTTP_PORT。切片按逗号拆分。
func applyEnv(cfg *Config, prefix string, lookup func(string) (string, bool)) error {
	root := reflect.ValueOf(cfg).Elem()
	rootType := root.Type()

	for i := 0; i < rootType.NumField(); i++ {
		section := yamlName(rootType.Field(i))
		if section == "" {
			continue
		}
		sectionVal := root.Field(i)
		sectionType := sectionVal.Type()

		for j := 0; j < sectionType.NumField(); j++ {
			key := yamlName(sectionType.Field(j))
			if key == "" {
				continue
			}
			envKey := strings.ToUpper(prefix + "_" + section + "_" + key)
			value, ok := lookup(envKey)
			if !ok || value == "" {
				continue
			}
			field := sectionVal.Field(j)
			decoded, err := decodeEnv(field.Type(), value)
			if err != nil {
				return fmt.Errorf("%s: %w", envKey, err)
			}
			field.Set(decoded)
		}
	}
	return nil
}

// decodeEnv 把字符串解码为 typ 的新值，不与已有值合并
func decodeEnv(typ reflect.Type, value string) (reflect.Value, error) {
	out := reflect.New(typ)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out.Interface(),
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			splitListHook,
		),
	})
	if err != nil {
		return reflect.Value{}, err
	}
	if err := dec.Decode(value); err != nil {
		return reflect.Value{}, err
	}
	return out.Elem(), nil
}

// splitListHook 把 "a, b" 解码为 []string{"a", "b"}
func splitListHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice {
		return data, nil
	}
	parts := strings.Split(data.(string), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func yamlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	if name == "-" {
		return ""
	}
	return name
}
