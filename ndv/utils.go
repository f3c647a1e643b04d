package ndv

import (
	"fmt"
	"path/filepath"
)

const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
	Tera = 1 << 40
)

// ConvertToAbsolute converts a path relative to dir into an absolute path.
// Absolute paths and URLs with a scheme are returned unchanged.
func ConvertToAbsolute(path, dir string) (string, error) {
	if path == "" || filepath.IsAbs(path) || hasScheme(path) {
		return path, nil
	}
	abs, err := filepath.Abs(filepath.Join(dir, path))
	if err != nil {
		return "", fmt.Errorf("unable to make %q absolute: %v", path, err)
	}
	return abs, nil
}

func hasScheme(path string) bool {
	for i, c := range path {
		switch {
		case c == ':':
			return i > 1 && len(path) > i+2 && path[i+1:i+3] == "//"
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case i > 0 && ((c >= '0' && c <= '9') || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return false
}
