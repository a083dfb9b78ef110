package version

import "fmt"

// Version/Commit 可在构建时通过 -ldflags 注入，默认使用开发占位符。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("tilecache %s (%s)", Version, Commit)
}

// LogFields 返回附加到每条日志的版本字段，便于区分不同构建写出的缓存。
func LogFields() map[string]any {
	return map[string]any{
		"version": Version,
		"commit":  Commit,
	}
}
