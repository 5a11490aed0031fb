package authz

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"datagate/internal/apierr"
)

const (
	ClaimPrefix = "@claims."
	ItemPrefix  = "@item."
)

var (
	claimToken       = regexp.MustCompile(`@claims\.[^\s\)]*`)
	invalidClaimChar = regexp.MustCompile(`[/$%+()\s]`)
	itemToken        = regexp.MustCompile(`@item\.([A-Za-z0-9_]+)`)
)

// Claim types Static Web Apps can put in a client principal.
var staticWebAppsClaims = map[string]bool{
	"userid":      true,
	"userdetails": true,
}

// Messages surfaced for policy failures.
const (
	EmptyClaimTypeMsg        = "Claimtype cannot be empty."
	UnsupportedSWAClaimsMsg  = "One or more claim types supplied in the database policy are not supported."
	MissingClaimsMsg         = "User does not possess all the claims required to perform this action."
	PolicyColumnsNotAllowed  = "Not all the columns required by policy are accessible."
	unsupportedClaimValueMsg = "The value of claim %s has a type that cannot be used in a database policy."
)

// ClaimTypes returns the claim type of every @claims token in policy,
// validating each one. staticWebApps restricts claims to userId and
// userDetails.
func ClaimTypes(policy string, staticWebApps bool) ([]string, error) {
	var out []string
	for _, tok := range claimToken.FindAllString(policy, -1) {
		claim := strings.TrimPrefix(tok, ClaimPrefix)
		if claim == "" {
			return nil, apierr.New(apierr.ConfigValidationError, EmptyClaimTypeMsg)
		}
		if invalidClaimChar.MatchString(claim) {
			return nil, apierr.New(apierr.ConfigValidationError,
				"Invalid format for claim type %s supplied in policy.", claim)
		}
		if staticWebApps && !staticWebAppsClaims[strings.ToLower(claim)] {
			return nil, apierr.New(apierr.ConfigValidationError, UnsupportedSWAClaimsMsg)
		}
		out = append(out, claim)
	}
	return out, nil
}

// ValidateClaims checks the claim tokens of a policy without collecting them.
func ValidateClaims(policy string, staticWebApps bool) error {
	_, err := ClaimTypes(policy, staticWebApps)
	return err
}

// PolicyFields lists the item fields a policy references, in order of
// first appearance.
func PolicyFields(policy string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range itemToken.FindAllStringSubmatch(policy, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// SubstituteClaims replaces every @claims token with the caller's claim as
// a typed literal and strips @item prefixes, leaving an OData expression.
func SubstituteClaims(policy string, claims map[string]any) (string, error) {
	// item prefixes go first so claim values are never rewritten
	policy = itemToken.ReplaceAllString(policy, "$1")
	var firstErr error
	out := claimToken.ReplaceAllStringFunc(policy, func(tok string) string {
		if firstErr != nil {
			return tok
		}
		claim := strings.TrimPrefix(tok, ClaimPrefix)
		if claim == "" || invalidClaimChar.MatchString(claim) {
			firstErr = apierr.New(apierr.AuthorizationCheckFailed,
				"Invalid format for claim type %s supplied in policy.", claim)
			return tok
		}
		v, ok := lookupClaim(claims, claim)
		if !ok {
			firstErr = apierr.New(apierr.AuthorizationCheckFailed, MissingClaimsMsg)
			return tok
		}
		lit, err := claimLiteral(claim, v)
		if err != nil {
			firstErr = err
			return tok
		}
		return lit
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// lookupClaim matches exactly first, then case-insensitively.
func lookupClaim(claims map[string]any, name string) (any, bool) {
	if v, ok := claims[name]; ok {
		return v, true
	}
	for k, v := range claims {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// claimLiteral renders a claim value as an OData literal. Strings are
// quoted with embedded quotes doubled; numbers and booleans are verbatim.
func claimLiteral(claim string, v any) (string, error) {
	switch x := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprint(x), nil
	case json.Number:
		return x.String(), nil
	}
	return "", apierr.New(apierr.AuthorizationCheckFailed, unsupportedClaimValueMsg, claim)
}
