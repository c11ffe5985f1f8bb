// Package handlers 实现站点的 HTTP 层：公开页面、预约流程、后台登录与 JSON API。
// 处理函数只做参数绑定、错误映射与审计日志，业务规则位于 services 包。
package handlers
