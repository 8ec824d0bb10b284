package filesystem

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// maxKeyLength 对象键最大长度
const maxKeyLength = 1024

// validateKey 校验对象键，拒绝绝对路径与路径遍历
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("key too long: %d characters", len(key))
	}
	if strings.HasPrefix(key, "/") || filepath.IsAbs(key) {
		return fmt.Errorf("absolute key not allowed: %s", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return fmt.Errorf("invalid key segment in %q", key)
		}
		if strings.ContainsRune(seg, 0) || (runtime.GOOS == "windows" && strings.ContainsAny(seg, `<>:"|?*\`)) {
			return fmt.Errorf("invalid character in key %q", key)
		}
	}
	return nil
}

// normalizePath 转为绝对路径并清理
func normalizePath(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(absPath)
}
