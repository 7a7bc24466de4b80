// Package config 负责加载插件宿主守护进程的 JSON 配置，
// 包括管理接口与指标监听地址、日志、配置存储后端、通知通道、语言以及插件管理器的 YAML 文件路径。
package config
