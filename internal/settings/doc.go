// Package settings 实现保存插件启用标记与生命周期状态的键值存储，
// 键为点号连接的路径，例如 "audio.alpha.enabled"。
package settings
