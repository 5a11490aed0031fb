package api

import (
	"strings"

	"datagate/internal/config"
	"datagate/internal/naming"
)

// entityPaths maps the REST path of every REST-enabled entity to its name.
func entityPaths(cfg *config.RuntimeConfig) map[string]string {
	out := make(map[string]string, len(cfg.Entities))
	for name, e := range cfg.Entities {
		if !e.Rest.Enabled {
			continue
		}
		out[naming.RestPath(name, e)] = name
	}
	return out
}

// allowsMethod reports whether a stored procedure accepts method over
// REST. Procedures without configured methods accept POST only.
func allowsMethod(e config.Entity, method string) bool {
	if len(e.Rest.Methods) == 0 {
		return method == "POST"
	}
	for _, m := range e.Rest.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
