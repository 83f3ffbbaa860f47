package engine

import "strings"

// EnclosingModules lists a dotted module name followed by each enclosing
// package, innermost first: "a.b.c" -> ["a.b.c", "a.b", "a"].
func EnclosingModules(module string) []string {
	module = strings.Trim(strings.TrimSpace(module), ".")
	if module == "" {
		return nil
	}

	parts := strings.Split(module, ".")
	out := make([]string, 0, len(parts))
	for i := len(parts); i > 0; i-- {
		name := strings.Join(parts[:i], ".")
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}

// invalidateLocked evicts the logic module and its packages from the module
// cache. Caller holds the access token.
func (r *Runtime) invalidateLocked() []string {
	names := EnclosingModules(r.module)
	if len(names) == 0 {
		return nil
	}
	r.interp.Evict(names...)
	r.invalidations++
	return names
}
