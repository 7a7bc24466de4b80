// Package api 暴露插件宿主的管理接口：查询插件状态与加载计划，
// 以及按类别和名称启动、停止单个插件。
package api
