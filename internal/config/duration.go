package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 让配置文件可以用 "30s" 这类写法表示时长。
type Duration time.Duration

// UnmarshalYAML 支持字符串和整数（按秒）两种写法。
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("解析时长失败: %w", err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	default:
		return fmt.Errorf("不支持的时长格式: %T", raw)
	}
	return nil
}

// MarshalYAML 输出可读的字符串形式。
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std 返回标准库的 time.Duration。
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
