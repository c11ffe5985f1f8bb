// Package web 内嵌站点的 HTML 模板与静态资源，使二进制可独立部署。
package web

import (
	"embed"
	"html/template"
	"io/fs"

	"github.com/Masterminds/sprig/v3"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Templates 解析全部页面模板；funcs 追加在 sprig 函数之后，可覆盖同名函数。
func Templates(funcs template.FuncMap) (*template.Template, error) {
	return template.New("").Funcs(sprig.FuncMap()).Funcs(funcs).ParseFS(templateFS, "templates/*.html")
}

// Static 返回 /static 下的资源文件系统。
func Static() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
