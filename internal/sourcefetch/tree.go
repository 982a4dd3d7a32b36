package sourcefetch

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Tree is a config.SourceTree backed by a real tarball fetch, used
// whenever a create/update isn't running with --check (CORE SPEC §5):
// the loader needs to know the fetched checkout really contains each
// step's executable and dependency file before any cluster object is
// created.
type Tree struct {
	paths map[string]bool
}

// FetchTree downloads and lists the tarball at url (streaming, never
// buffering the whole archive), stripping the first path component the
// same way the fetch-source init container's `tar --strip-components=1`
// does, so the paths recorded here match what a step's
// path_to_executable/dependency_path are written relative to.
func FetchTree(ctx context.Context, httpClient *http.Client, url, token string) (*Tree, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("sourcefetch: building request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sourcefetch: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sourcefetch: %s returned status %d", url, resp.StatusCode)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sourcefetch: opening gzip stream: %w", err)
	}
	defer gz.Close()

	paths := make(map[string]bool)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sourcefetch: reading tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		paths[stripFirstComponent(hdr.Name)] = true
	}

	return &Tree{paths: paths}, nil
}

func stripFirstComponent(name string) string {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Exists implements config.SourceTree.
func (t *Tree) Exists(path string) bool {
	return t.paths[strings.TrimPrefix(path, "./")]
}
