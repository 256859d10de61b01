// Package registryserver implements the registry HTTP service (C9):
// package-contents/package-metadata/search/publish endpoints, the four
// authorization modes, and pluggable blob storage, grounded on
// wally-registry-backend/src/{main,auth,config,storage}.rs.
package registryserver

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v74/github"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/UpliftGames/wally/gitindex"
	"github.com/UpliftGames/wally/registry"
)

// AuthMode is one of the four authorization modes from
// wally-registry-backend/src/auth.rs's AuthMode enum, extended with the
// external-identity org-membership fallback spec.md §4.9 adds.
type AuthMode int

const (
	// AuthUnauthenticated allows reads freely and rejects all writes.
	AuthUnauthenticated AuthMode = iota
	// AuthSingleKey requires bearer == Key for both reads and writes.
	AuthSingleKey
	// AuthDoubleKey uses separate read/write keys; ReadKey empty means
	// public reads.
	AuthDoubleKey
	// AuthExternalIdentity verifies the bearer token against an identity
	// provider (GitHub) and optionally checks organization membership.
	AuthExternalIdentity
)

// Authenticator implements spec.md §4.9's four AuthModes plus scope
// ownership enforcement via an index.
type Authenticator struct {
	Mode AuthMode

	Key      string // AuthSingleKey
	ReadKey  string // AuthDoubleKey, optional
	WriteKey string // AuthDoubleKey

	// GithubClient is used in AuthExternalIdentity mode to resolve a bearer
	// token to a GitHub identity and, if RequireOrg is set, to check
	// membership of that organization.
	GithubClient func(token string) *github.Client
	RequireOrg   string

	Index *gitindex.Index
}

// Identity is the authenticated caller, if any. In AuthExternalIdentity
// mode UserID is the GitHub numeric user id, the value scope ownership
// records. In the API-key modes, where no natural numeric id exists, it is
// derived from the key through a name-based (SHA-1) UUID, so the same key
// always yields the same id; those modes do not check scope owners.
type Identity struct {
	UserID int64
	Login  string
}

// CheckRead enforces read access, returning an *registry.Error of kind
// KindAuth on failure.
func (a *Authenticator) CheckRead(r *http.Request) error {
	switch a.Mode {
	case AuthUnauthenticated, AuthExternalIdentity:
		return nil
	case AuthSingleKey:
		return requireBearer(r, a.Key)
	case AuthDoubleKey:
		if a.ReadKey == "" {
			return nil
		}
		return requireBearer(r, a.ReadKey)
	default:
		return authError("unknown auth mode")
	}
}

// CheckWrite enforces write access and returns the resolved Identity.
func (a *Authenticator) CheckWrite(ctx context.Context, r *http.Request) (Identity, error) {
	switch a.Mode {
	case AuthUnauthenticated:
		return Identity{}, authError("writes are not permitted in unauthenticated mode")
	case AuthSingleKey:
		if err := requireBearer(r, a.Key); err != nil {
			return Identity{}, err
		}
		return Identity{UserID: syntheticID(a.Key)}, nil
	case AuthDoubleKey:
		if err := requireBearer(r, a.WriteKey); err != nil {
			return Identity{}, err
		}
		return Identity{UserID: syntheticID(a.WriteKey)}, nil
	case AuthExternalIdentity:
		return a.checkGithub(ctx, r)
	default:
		return Identity{}, authError("unknown auth mode")
	}
}

func (a *Authenticator) checkGithub(ctx context.Context, r *http.Request) (Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return Identity{}, authError("github auth required")
	}

	client := a.GithubClient(token)
	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return Identity{}, authError("github auth failed: %s", err)
	}

	if a.RequireOrg != "" {
		member, _, err := client.Organizations.IsMember(ctx, a.RequireOrg, user.GetLogin())
		if err != nil || !member {
			return Identity{}, authError("must be a member of %s", a.RequireOrg)
		}
	}

	return Identity{UserID: user.GetID(), Login: user.GetLogin()}, nil
}

// CanWritePackage implements WriteAccess::can_write_package from
// wally-registry-backend/src/auth.rs: if the scope has no owners yet and
// the identity's login matches the scope name, claim it (recording the
// identity as the first owner); otherwise the identity must already be a
// recorded scope owner.
func (a *Authenticator) CanWritePackage(ctx context.Context, id Identity, name registry.PackageName) error {
	if a.Mode != AuthExternalIdentity {
		// API-key modes authenticate the publisher as a whole, not by
		// scope; any successful CheckWrite implies write access.
		return nil
	}

	owners, err := a.Index.GetScopeOwners(ctx, name.Scope())
	if err != nil {
		return err
	}

	if len(owners) == 0 {
		if id.Login == name.Scope() {
			return a.Index.AddScopeOwner(ctx, name.Scope(), id.UserID)
		}
		return authError("you cannot claim scope %q", name.Scope())
	}

	for _, o := range owners {
		if o == id.UserID {
			return nil
		}
	}
	return authError("you do not own scope %q", name.Scope())
}

func requireBearer(r *http.Request, want string) error {
	got := bearerToken(r)
	if got == "" {
		return authError("authorization required")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return authError("invalid bearer token")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

// syntheticID mints a stable-for-the-process opaque id for API-key modes,
// which have no natural numeric identity the way a GitHub login does.
// Grounded on google/uuid, carried transitively by kptdev-kpt and repurposed
// here for its stated purpose (see DESIGN.md).
func syntheticID(key string) int64 {
	sum := uuid.NewSHA1(uuid.NameSpaceOID, []byte(key))
	var id int64
	for _, b := range sum[:8] {
		id = id<<8 | int64(b)
	}
	if id < 0 {
		id = -id
	}
	return id
}

// NewGithubClient builds a go-github client authenticated with token via
// oauth2's static token source, the standard construction shown throughout
// google/go-github's own examples and exercised the same way in
// scripness-ralph.
func NewGithubClient(ctx context.Context, token string) *github.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

func authError(format string, args ...interface{}) error {
	return &registry.Error{Kind: registry.KindAuth, Msg: fmt.Sprintf(format, args...)}
}
