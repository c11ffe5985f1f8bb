package utils

import (
	"crypto/rand"
	"encoding/base64"
	"io"
)

// RandString 生成长度为 n 字节的随机字节，并以 base64url 编码为 URL 安全的字符串（无填充）。
func RandString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// RandURLSafeString 生成长度为 n 的 URL 安全随机字符串（字符集 [A-Za-z0-9-_]）。
func RandURLSafeString(n int) (string, error) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	const mask = 63 // 0b111111 覆盖 0..63，和 alphabet 长度匹配
	if n <= 0 {
		return "", nil
	}
	out := make([]byte, n)
	buf := make([]byte, n)
	i := 0
	for i < n {
		if _, err := io.ReadFull(rand.Reader, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			out[i] = alphabet[int(b&mask)]
			i++
			if i >= n {
				break
			}
		}
	}
	return string(out), nil
}

// RecoveryCodes 生成 n 个形如 xxxxx-xxxxx 的一次性恢复码。
func RecoveryCodes(n int) ([]string, error) {
	const alphabet = "abcdefghjkmnpqrstuvwxyz23456789"
	codes := make([]string, 0, n)
	buf := make([]byte, 10)
	for len(codes) < n {
		if _, err := io.ReadFull(rand.Reader, buf); err != nil {
			return nil, err
		}
		out := make([]byte, 0, 11)
		for i, b := range buf {
			if i == 5 {
				out = append(out, '-')
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
		}
		codes = append(codes, string(out))
	}
	return codes, nil
}
