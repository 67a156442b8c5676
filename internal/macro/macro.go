// Package macro expands $NAME and ${NAME} references in step configuration
// values against the environment and the build variables.
package macro

import (
	"regexp"
	"strings"
)

var varRegex = regexp.MustCompile(`\$(\{[A-Za-z0-9_.]+\}|[A-Za-z0-9_]+)`)

// Context is the two-phase substitution context of a build.
type Context struct {
	Env       map[string]string
	BuildVars map[string]string
}

// Resolve expands references in s: environment variables first, then build
// variables over the result. References neither phase knows are left as-is.
func (c Context) Resolve(s string) string {
	return replace(replace(s, c.Env), c.BuildVars)
}

func replace(s string, vars map[string]string) string {
	if len(vars) == 0 || s == "" {
		return s
	}
	return varRegex.ReplaceAllStringFunc(s, func(ref string) string {
		name := ref[1:]
		if name[0] == '{' {
			name = name[1 : len(name)-1]
		}
		if v, ok := vars[name]; ok {
			return v
		}
		return ref
	})
}

// EnvMap converts KEY=VALUE pairs, as returned by os.Environ, into a map.
func EnvMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			out[key] = value
		}
	}
	return out
}
