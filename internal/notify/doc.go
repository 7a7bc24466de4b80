// Package notify 将插件宿主产生的用户提示（toast）投递到一个或多个通道，
// 包括日志、Redis 发布订阅与 RabbitMQ 交换机。
package notify
