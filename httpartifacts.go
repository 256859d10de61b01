package wally

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/UpliftGames/wally/registry"
)

// HTTPArtifacts fetches packaged archive bytes from a registry's
// "/v1/package-contents/<scope>/<name>/<version>" endpoint, the artifact
// half of spec.md §4.2's default registry source (the Git index itself is
// handled by gitindex.Index, which satisfies registry's indexClient
// interface directly).
type HTTPArtifacts struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func (a *HTTPArtifacts) httpClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

// FetchArtifact downloads the archive for id.
func (a *HTTPArtifacts) FetchArtifact(ctx context.Context, id registry.PackageId) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/package-contents/%s/%s/%s", a.BaseURL, id.Name.Scope(), id.Name.Name(), id.Version)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", id)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading response body for %s", id)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetching %s: server returned %s: %s", id, resp.Status, body)
	}
	return body, nil
}

// Publish uploads a zipped package archive to the registry's
// "/v1/publish" endpoint, matching main.rs's publish route.
func Publish(ctx context.Context, baseURL, token string, archive []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/publish", bytes.NewReader(archive))
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/zip")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "publishing package")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading publish response")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("publish failed: server returned %s: %s", resp.Status, body)
	}
	return nil
}
