package gitindex

import (
	"errors"
	"os/exec"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// credentialPolicy implements the three-step credential fallback described
// in original_source/src/git_util.rs's make_credentials_callback: try a
// provided token once, then the host credential helper once, then default
// (anonymous) credentials; otherwise refuse.
type credentialPolicy struct {
	token     string
	host      string
	triedAuth bool
	triedHelp bool
	triedAnon bool
}

func newCredentialPolicy(host, token string) *credentialPolicy {
	return &credentialPolicy{host: host, token: token}
}

// AuthMethod returns the transport.AuthMethod to use for the next attempt,
// advancing through the policy's steps. It returns nil once default
// (unauthenticated) credentials should be used, and an error if no method
// remains.
func (p *credentialPolicy) AuthMethod() (transport.AuthMethod, error) {
	if p.token != "" && !p.triedAuth {
		p.triedAuth = true
		return &http.BasicAuth{Username: p.token, Password: ""}, nil
	}

	if !p.triedHelp {
		p.triedHelp = true
		if cred, ok := credentialHelperLookup(p.host); ok {
			return &http.BasicAuth{Username: cred.username, Password: cred.password}, nil
		}
	}

	if !p.triedAnon {
		p.triedAnon = true
		return nil, nil
	}

	return nil, errors.New("no git credentials left to try")
}

type helperCredential struct {
	username string
	password string
}

// credentialHelperLookup shells out to `git credential fill`, mirroring
// git2's Cred::credential_helper in the original Rust implementation. It is
// tried exactly once per policy instance.
func credentialHelperLookup(host string) (helperCredential, bool) {
	if host == "" {
		return helperCredential{}, false
	}

	cmd := exec.Command("git", "credential", "fill")
	cmd.Stdin = strings.NewReader("protocol=https\nhost=" + host + "\n\n")
	out, err := cmd.Output()
	if err != nil {
		return helperCredential{}, false
	}

	var cred helperCredential
	for _, line := range strings.Split(string(out), "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch k {
		case "username":
			cred.username = v
		case "password":
			cred.password = v
		}
	}
	if cred.username == "" && cred.password == "" {
		return helperCredential{}, false
	}
	return cred, true
}
