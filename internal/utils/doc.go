// Package utils 提供与业务无关的小工具：随机令牌、恢复码与 URL slug。
package utils
