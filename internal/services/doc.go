// Package services 提供应用的领域服务层：预约与时段、博客、套餐、计算器、邮件、聊天机器人、天气与管理员账户。
// 该层对 handlers 提供较为稳定的接口，避免在 HTTP 层直接操作数据访问或缓存细节。
package services
