// Package reference resolves reference templates against a layered data store.
//
// A reference template is a tree of maps and lists. String leaves name variables
// of the store, every other leaf is a literal and is copied unchanged.
package reference

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrUnresolvedReference = errors.New("reference: unresolved reference")

// UnresolvedReferenceError names the template position and the variable that could not be found.
type UnresolvedReferenceError struct {
	// Key is the path of the template entry, e.g. "task.title" or "items[2]".
	Key       string
	Reference string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("failed to resolve reference: %s (at %s)", e.Reference, e.Key)
}

func (e *UnresolvedReferenceError) Is(target error) bool {
	return target == ErrUnresolvedReference
}

// CombineMaps flattens the given scopes into a new map. Scopes listed first win on key collisions.
func CombineMaps(scopes ...map[string]any) map[string]any {
	res := map[string]any{}
	for i := len(scopes) - 1; i >= 0; i-- {
		for k, v := range scopes[i] {
			res[k] = v
		}
	}
	return res
}

// ResolveReferenceMap resolves template against store. The result keeps the key set
// and the nesting of template.
func ResolveReferenceMap(template map[string]any, store map[string]any) (map[string]any, error) {
	return resolveMap("", template, store)
}

// ResolveReferenceList is the list counterpart of ResolveReferenceMap, index preserving.
func ResolveReferenceList(template []any, store map[string]any) ([]any, error) {
	return resolveList("", template, store)
}

// ResolveStringMap resolves a flat parameter mapping, as used for service call inputs.
func ResolveStringMap(template map[string]string, store map[string]any) (map[string]any, error) {
	generic := make(map[string]any, len(template))
	for k, v := range template {
		generic[k] = v
	}
	return ResolveReferenceMap(generic, store)
}

func resolveMap(path string, template map[string]any, store map[string]any) (map[string]any, error) {
	res := make(map[string]any, len(template))
	for key, value := range template {
		resolved, err := resolveValue(joinPath(path, key), value, store)
		if err != nil {
			return nil, err
		}
		res[key] = resolved
	}
	return res, nil
}

func resolveList(path string, template []any, store map[string]any) ([]any, error) {
	res := make([]any, len(template))
	for i, value := range template {
		resolved, err := resolveValue(path+"["+strconv.Itoa(i)+"]", value, store)
		if err != nil {
			return nil, err
		}
		res[i] = resolved
	}
	return res, nil
}

func resolveValue(path string, value any, store map[string]any) (any, error) {
	switch KindOf(value) {
	case KindString:
		name := value.(string)
		v, ok := store[name]
		if !ok {
			return nil, &UnresolvedReferenceError{Key: path, Reference: name}
		}
		return v, nil
	case KindMap:
		return resolveMap(path, value.(map[string]any), store)
	case KindList:
		return resolveList(path, value.([]any), store)
	case KindBoolean, KindNumber, KindOther:
		return value, nil
	default:
		panic("[invariant check] reference kind switch not fully implemented")
	}
}

func joinPath(path string, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
