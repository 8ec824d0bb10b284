package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func init() {
	message.CharsetReader = charsetReader
}

// 常见的非标准字符集别名
var charsetAliases = map[string]encoding.Encoding{
	"gb2312": simplifiedchinese.GBK,
	"cp936":  simplifiedchinese.GBK,
}

// charsetReader 将声明的字符集转换为 UTF-8
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	name := strings.ToLower(strings.TrimSpace(charset))
	switch name {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return input, nil
	}

	enc, ok := charsetAliases[name]
	if !ok {
		var err error
		enc, err = htmlindex.Get(name)
		if err != nil {
			return nil, fmt.Errorf("unhandled charset %q", charset)
		}
	}
	return enc.NewDecoder().Reader(input), nil
}
