package policy

// Flatten converts a decoded JSON value into the list of dotted field paths
// reachable from the root. Every object key contributes a path, including
// intermediate keys; arrays are transparent, so each element is walked with
// the same prefix as its containing array and no index segment is emitted.
// Scalars and null contribute nothing. The function is total: unsupported
// value kinds are treated as scalars.
//
// Pass an empty prefix for the root call.
func Flatten(value any, prefix string) []string {
	return appendPaths(nil, value, prefix)
}

func appendPaths(paths []string, value any, prefix string) []string {
	switch v := value.(type) {
	case map[string]any:
		for key, sub := range v {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			paths = append(paths, path)
			paths = appendPaths(paths, sub, path)
		}
	case []any:
		for _, sub := range v {
			paths = appendPaths(paths, sub, prefix)
		}
	}
	return paths
}
