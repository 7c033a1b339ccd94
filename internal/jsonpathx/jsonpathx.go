// Package jsonpathx wraps github.com/PaesslerAG/jsonpath with the single
// operation the strategy and tape packages need: telling a genuine
// zero-match result apart from a malformed expression. The library's
// public API is read-only (Get returns matched values, nothing resembling
// a Set), so callers that need to mutate a matched leaf still walk the
// document themselves once this package has confirmed the path is valid
// and tells them how many leaves it resolved to.
package jsonpathx

import "github.com/PaesslerAG/jsonpath"

// Matches evaluates path against doc and reports how many leaves it
// resolved to. A malformed path or one that resolves to nothing returns
// (0, err) / (0, nil) respectively -- both are treated as INVALID_JSONPATH
// by callers.
func Matches(doc any, path string) (int, error) {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case nil:
		return 0, nil
	case []any:
		return len(t), nil
	default:
		return 1, nil
	}
}
