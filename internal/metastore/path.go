package metastore

import "strings"

// directChild reports whether path is a direct child of prefix (one path
// segment below it) and, if so, returns that segment's full path.
// E.g. directChild("/chunks", "/chunks/abc") -> ("/chunks/abc", true);
// directChild("/chunks", "/chunks/abc/meta") -> ("", false).
func directChild(prefix, path string) (string, bool) {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = "/"
	}
	if prefix != "/" {
		if !strings.HasPrefix(path, prefix+"/") {
			return "", false
		}
		path = path[len(prefix):]
	}
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "", false
	}
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		return "", false
	}
	if prefix == "/" {
		return "/" + path, true
	}
	return prefix + "/" + path, true
}

// parentPath returns the path one level above path. parentPath("/a/b/c") ->
// "/a/b"; parentPath("/a") -> "/" (the root has no parent to check).
func parentPath(path string) string {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}
