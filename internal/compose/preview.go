package compose

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// htmlText 提取 HTML 中的文本节点，忽略 script 与 style 的内容
//
// 不构成标签的 "<" 按普通文本保留。
func htmlText(body string) string {
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(body))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		case html.StartTagToken:
			if ignoredAtom(z) {
				skip++
			}
		case html.EndTagToken:
			if ignoredAtom(z) && skip > 0 {
				skip--
			}
		}
	}
}

func ignoredAtom(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch atom.Lookup(name) {
	case atom.Script, atom.Style, atom.Head, atom.Title:
		return true
	}
	return false
}
