package request

import (
	"strings"

	"datagate/internal/apierr"
)

// Route is the ordered field/value pairs of a primary key route.
type Route struct {
	Fields []string
	Values map[string]string
}

func (r Route) Empty() bool { return len(r.Fields) == 0 }

// ParsePrimaryKeyRoute splits "id/1/lang/en" into pairs.
func ParsePrimaryKeyRoute(route string) (Route, error) {
	route = strings.Trim(route, "/")
	out := Route{Values: map[string]string{}}
	if route == "" {
		return out, nil
	}
	parts := strings.Split(route, "/")
	if len(parts)%2 != 0 {
		return Route{}, apierr.New(apierr.BadRequest,
			"The request is invalid since it contains a primary key with no value specified.")
	}
	for i := 0; i < len(parts); i += 2 {
		field, value := parts[i], parts[i+1]
		if field == "" {
			return Route{}, apierr.New(apierr.BadRequest, "The request is invalid since it contains an empty primary key name.")
		}
		if _, dup := out.Values[field]; dup {
			return Route{}, apierr.New(apierr.BadRequest,
				"The request is invalid since it contains duplicate primary keys.")
		}
		out.Fields = append(out.Fields, field)
		out.Values[field] = value
	}
	return out, nil
}

// SplitEntityPath separates the entity path from the primary key route.
// paths maps an entity's REST path to its name; the longest match wins.
func SplitEntityPath(path string, paths map[string]string) (entity, route string, ok bool) {
	path = strings.Trim(path, "/")
	best := ""
	for p := range paths {
		if (path == p || strings.HasPrefix(path, p+"/")) && len(p) > len(best) {
			best = p
		}
	}
	if best == "" {
		return "", "", false
	}
	return paths[best], strings.TrimPrefix(path[len(best):], "/"), true
}
