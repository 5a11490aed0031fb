package executor

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"datagate/internal/apierr"
)

// Token scopes of the managed database services.
const (
	SQLServerScope = "https://database.windows.net/.default"
	OSSRDBMSScope  = "https://ossrdbms-aad.database.windows.net/.default"
)

const refreshBefore = 5 * time.Minute

// Tokens caches access tokens per data source name.
type Tokens struct {
	mu     sync.RWMutex
	cached map[string]azcore.AccessToken

	credMu  sync.Mutex
	cred    azcore.TokenCredential
	newCred func() (azcore.TokenCredential, error)

	now func() time.Time
}

// NewTokens uses the platform default credential chain, created on first
// use.
func NewTokens() *Tokens {
	return NewTokensWithCredential(nil)
}

// NewTokensWithCredential pins the credential; nil means the default chain.
func NewTokensWithCredential(cred azcore.TokenCredential) *Tokens {
	return &Tokens{
		cached: map[string]azcore.AccessToken{},
		cred:   cred,
		newCred: func() (azcore.TokenCredential, error) {
			return azidentity.NewDefaultAzureCredential(nil)
		},
		now: time.Now,
	}
}

func (t *Tokens) credential() (azcore.TokenCredential, error) {
	t.credMu.Lock()
	defer t.credMu.Unlock()
	if t.cred != nil {
		return t.cred, nil
	}
	c, err := t.newCred()
	if err != nil {
		return nil, err
	}
	t.cred = c
	return c, nil
}

// Get returns a token for dataSource. An explicitly configured token wins;
// otherwise a cached platform token is reused until five minutes before it
// expires.
func (t *Tokens) Get(ctx context.Context, dataSource, explicit, scope string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	t.mu.RLock()
	tok, ok := t.cached[dataSource]
	t.mu.RUnlock()
	if ok && t.now().Add(refreshBefore).Before(tok.ExpiresOn) {
		return tok.Token, nil
	}

	cred, err := t.credential()
	if err != nil {
		return "", apierr.Wrap(err, apierr.ErrorInInitialization,
			"No managed identity credential is available for data source %s.", dataSource)
	}
	tok, err = cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{scope}})
	if err != nil {
		return "", apierr.Wrap(err, apierr.ErrorInInitialization,
			"Could not acquire an access token for data source %s.", dataSource)
	}
	t.mu.Lock()
	t.cached[dataSource] = tok
	t.mu.Unlock()
	return tok.Token, nil
}

// Forget drops a cached token, e.g. when its connection pool is disposed.
func (t *Tokens) Forget(dataSource string) {
	t.mu.Lock()
	delete(t.cached, dataSource)
	t.mu.Unlock()
}

// Credential adapts the cache to SDK clients that take an
// azcore.TokenCredential, keeping one token per data source.
func (t *Tokens) Credential(dataSource, explicit string) azcore.TokenCredential {
	return cachedCredential{tokens: t, dataSource: dataSource, explicit: explicit}
}

type cachedCredential struct {
	tokens     *Tokens
	dataSource string
	explicit   string
}

func (c cachedCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	scope := ""
	if len(opts.Scopes) > 0 {
		scope = opts.Scopes[0]
	}
	tok, err := c.tokens.Get(ctx, c.dataSource, c.explicit, scope)
	if err != nil {
		return azcore.AccessToken{}, err
	}
	return azcore.AccessToken{Token: tok, ExpiresOn: c.tokens.now().Add(refreshBefore)}, nil
}
