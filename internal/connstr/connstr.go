// Package connstr reads ADO-style "Key=Value;Key=Value" connection strings.
package connstr

import "strings"

// Parse splits s into lower-cased keys and trimmed values. Values may be
// wrapped in single or double quotes to carry ';'.
func Parse(s string) map[string]string {
	out := map[string]string{}
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = strings.TrimLeft(s[eq+1:], " \t")
		var val string
		if len(s) > 0 && (s[0] == '"' || s[0] == '\'') {
			q := s[0]
			end := strings.IndexByte(s[1:], q)
			if end < 0 {
				val, s = s[1:], ""
			} else {
				val, s = s[1:end+1], s[end+2:]
			}
			if i := strings.IndexByte(s, ';'); i >= 0 {
				s = s[i+1:]
			} else {
				s = ""
			}
		} else if i := strings.IndexByte(s, ';'); i >= 0 {
			val, s = strings.TrimSpace(s[:i]), s[i+1:]
		} else {
			val, s = strings.TrimSpace(s), ""
		}
		if key != "" {
			out[key] = val
		}
	}
	return out
}

// HasAny reports whether any of keys is present with a non-empty value.
func HasAny(kv map[string]string, keys ...string) bool {
	for _, k := range keys {
		if v := kv[k]; v != "" {
			return true
		}
	}
	return false
}

// Get returns the first non-empty value among keys.
func Get(kv map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := kv[k]; v != "" {
			return v
		}
	}
	return ""
}

// IsKeyValue reports whether s looks like an ADO-style string rather than a
// URL or driver DSN.
func IsKeyValue(s string) bool {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") || strings.Contains(s, "@tcp(") {
		return false
	}
	return strings.Contains(s, "=") && strings.Contains(s, ";")
}
