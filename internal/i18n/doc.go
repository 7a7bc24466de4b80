// Package i18n 提供用户可见文案的本地化，文案以嵌套 JSON 的形式内嵌，
// 键使用点号连接，例如 PLUGINS.PLUGIN_START_ERROR。
package i18n
