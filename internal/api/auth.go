package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"datagate/internal/apierr"
	"datagate/internal/authz"
	"datagate/internal/config"
)

// ClientPrincipalHeader carries the identity injected by Static Web Apps
// and App Service authentication.
const ClientPrincipalHeader = "X-MS-CLIENT-PRINCIPAL"

// principal is the authenticated identity of a request.
type principal struct {
	authenticated bool
	roles         []string
	claims        map[string]any
}

// caller resolves the principal and the effective role of a request.
func caller(h http.Header, auth config.AuthenticationOptions) (string, map[string]any, error) {
	p, err := authenticate(h, auth)
	if err != nil {
		return "", nil, err
	}
	role, err := authz.ClientRole(h, p.authenticated, p.roles)
	if err != nil {
		return "", nil, err
	}
	if p.claims == nil {
		p.claims = map[string]any{}
	}
	return role, p.claims, nil
}

func authenticate(h http.Header, auth config.AuthenticationOptions) (principal, error) {
	switch {
	case strings.EqualFold(auth.Provider, config.StaticWebAppsProvider):
		return staticWebAppsPrincipal(h.Get(ClientPrincipalHeader))
	case strings.EqualFold(auth.Provider, config.AppServiceProvider):
		return appServicePrincipal(h.Get(ClientPrincipalHeader))
	case strings.EqualFold(auth.Provider, config.SimulatorProvider):
		// every request is authenticated and holds the role it asks for
		p := principal{authenticated: true, claims: map[string]any{}}
		if r := strings.TrimSpace(h.Get(authz.RoleHeader)); r != "" {
			p.roles = []string{r}
		}
		return p, nil
	case strings.EqualFold(auth.Provider, config.JwtProvider):
		return bearerPrincipal(h.Get("Authorization"), auth.Jwt)
	}
	return principal{}, apierr.New(apierr.ErrorInInitialization, "Authentication provider %s is not supported.", auth.Provider)
}

func decodePrincipalHeader(raw string, v any) error {
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		b, err = base64.RawStdEncoding.DecodeString(raw)
	}
	if err == nil {
		err = json.Unmarshal(b, v)
	}
	if err != nil {
		return apierr.New(apierr.AuthenticationChallenge, "The %s header is malformed.", ClientPrincipalHeader)
	}
	return nil
}

type staticWebAppsClient struct {
	IdentityProvider string   `json:"identityProvider"`
	UserID           string   `json:"userId"`
	UserDetails      string   `json:"userDetails"`
	UserRoles        []string `json:"userRoles"`
}

func staticWebAppsPrincipal(raw string) (principal, error) {
	if strings.TrimSpace(raw) == "" {
		return principal{}, nil
	}
	var swa staticWebAppsClient
	if err := decodePrincipalHeader(raw, &swa); err != nil {
		return principal{}, err
	}
	if swa.UserID == "" {
		return principal{}, nil
	}
	return principal{
		authenticated: true,
		roles:         swa.UserRoles,
		claims: map[string]any{
			"userId":           swa.UserID,
			"userDetails":      swa.UserDetails,
			"identityProvider": swa.IdentityProvider,
		},
	}, nil
}

type appServiceClient struct {
	AuthType string `json:"auth_typ"`
	NameType string `json:"name_typ"`
	RoleType string `json:"role_typ"`
	Claims   []struct {
		Type  string `json:"typ"`
		Value string `json:"val"`
	} `json:"claims"`
}

func appServicePrincipal(raw string) (principal, error) {
	if strings.TrimSpace(raw) == "" {
		return principal{}, nil
	}
	var as appServiceClient
	if err := decodePrincipalHeader(raw, &as); err != nil {
		return principal{}, err
	}
	if as.AuthType == "" {
		return principal{}, nil
	}
	roleType := as.RoleType
	if roleType == "" {
		roleType = "roles"
	}
	p := principal{authenticated: true, claims: map[string]any{}}
	for _, cl := range as.Claims {
		if cl.Type == roleType {
			p.roles = append(p.roles, cl.Value)
			continue
		}
		// the first value of a repeated claim wins
		if _, dup := p.claims[cl.Type]; !dup {
			p.claims[cl.Type] = cl.Value
		}
	}
	return p, nil
}

var bearerMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

func bearerPrincipal(header string, opts *config.JwtOptions) (principal, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return principal{}, nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return principal{}, apierr.New(apierr.AuthenticationChallenge, "The Authorization header must carry a bearer token.")
	}
	if opts == nil || opts.Key == "" {
		return principal{}, apierr.New(apierr.ErrorInInitialization, "No key is configured to verify bearer tokens.")
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims,
		func(*jwt.Token) (any, error) { return []byte(opts.Key), nil },
		jwt.WithValidMethods(bearerMethods),
		jwt.WithIssuer(opts.Issuer),
		jwt.WithAudience(opts.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return principal{}, apierr.Wrap(err, apierr.AuthenticationChallenge, "The bearer token is invalid.")
	}
	p := principal{authenticated: true, claims: make(map[string]any, len(claims))}
	for k, v := range claims {
		if k == "roles" {
			p.roles = rolesClaim(v)
			continue
		}
		p.claims[k] = v
	}
	return p, nil
}

func rolesClaim(v any) []string {
	switch r := v.(type) {
	case string:
		return []string{r}
	case []any:
		out := make([]string, 0, len(r))
		for _, x := range r {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
