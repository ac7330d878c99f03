package image

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"

	"github.com/wendelmax/polis/pkg/config"
	"github.com/wendelmax/polis/pkg/log"
	"github.com/wendelmax/polis/pkg/perr"
	"github.com/wendelmax/polis/pkg/types"
)

// OciManifest and OciConfig are the OCI image-spec's own Manifest and
// Image types: the subset of a Docker/OCI image this client needs is
// already exactly what upstream defines, so there's nothing to add on
// top of it.
type OciManifest = ocispec.Manifest
type OciConfig = ocispec.Image

// dockerHubToken is the response body of the Docker Hub anonymous or
// authenticated token endpoint.
type dockerHubToken struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	IssuedAt    string `json:"issued_at"`
}

// RegistryClient speaks OCI distribution v2 against a configured set
// of registries, with mirror-then-fallback resolution and a
// development-only synthetic image when both attempts fail.
type RegistryClient struct {
	http     *http.Client
	cacheDir string
	cfg      config.Registries
	username string
	password string
	token    string
	logger   zerolog.Logger
}

// NewRegistryClient constructs a RegistryClient rooted at cacheDir.
func NewRegistryClient(cacheDir string, cfg config.Registries) *RegistryClient {
	return &RegistryClient{
		http:     &http.Client{Timeout: 30 * time.Second},
		cacheDir: cacheDir,
		cfg:      cfg,
		logger:   log.WithComponent("image-registry"),
	}
}

// WithAuth sets basic-auth credentials used as a fallback when
// anonymous token acquisition fails.
func (c *RegistryClient) WithAuth(username, password string) *RegistryClient {
	c.username = username
	c.password = password
	return c
}

// WithToken pre-seeds a bearer token, skipping token acquisition.
func (c *RegistryClient) WithToken(token string) *RegistryClient {
	c.token = token
	return c
}

func (c *RegistryClient) entry(registry string) config.RegistryEntry {
	if e, ok := c.cfg.Registries[registry]; ok {
		return e
	}
	return config.RegistryEntry{Location: fmt.Sprintf("https://%s", registry)}
}

func (c *RegistryClient) baseURL(registry string) (string, error) {
	e := c.entry(registry)
	if e.Blocked {
		return "", perr.Newf(perr.Image, "pull", "registry %q is blocked", registry)
	}
	if e.Mirror != "" {
		return e.Mirror, nil
	}
	if e.Location != "" {
		return e.Location, nil
	}
	return fmt.Sprintf("https://%s", registry), nil
}

func (c *RegistryClient) fallbackURL(registry string) string {
	return c.entry(registry).Fallback
}

// acquireToken requests an anonymous pull token for repo, falling
// back to Basic auth with configured credentials if that fails.
func (c *RegistryClient) acquireToken(ctx context.Context, repo string) (string, error) {
	if c.token != "" {
		return c.token, nil
	}

	url := fmt.Sprintf("https://auth.docker.io/token?service=registry.docker.io&scope=repository:%s:pull", repo)
	if tok, err := c.fetchToken(ctx, url, false); err == nil {
		return tok, nil
	}

	if c.username != "" && c.password != "" {
		return c.fetchToken(ctx, url, true)
	}

	return "", fmt.Errorf("unable to acquire registry token for %s", repo)
}

func (c *RegistryClient) fetchToken(ctx context.Context, url string, withAuth bool) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if withAuth {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var tok dockerHubToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tok.Token != "" {
		return tok.Token, nil
	}
	return tok.AccessToken, nil
}

func (c *RegistryClient) authorize(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}

func (c *RegistryClient) fetchManifest(ctx context.Context, base, repo, tag, token string) (*OciManifest, []byte, error) {
	url := fmt.Sprintf("%s/v2/%s/manifests/%s", base, repo, tag)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", "polis/1.0")
	req.Header.Add("Accept", "application/vnd.docker.distribution.manifest.v2+json")
	req.Header.Add("Accept", "application/vnd.oci.image.manifest.v1+json")
	c.authorize(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch manifest: http %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest OciManifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &manifest, body, nil
}

func (c *RegistryClient) fetchConfig(ctx context.Context, base, repo string, dgst digest.Digest, token string) (*OciConfig, []byte, error) {
	url := fmt.Sprintf("%s/v2/%s/blobs/%s", base, repo, dgst)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", "polis/1.0")
	c.authorize(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch config: http %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}
	var cfg OciConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, body, nil
}

func (c *RegistryClient) downloadLayer(ctx context.Context, base, repo string, dgst digest.Digest, token, destPath string) error {
	url := fmt.Sprintf("%s/v2/%s/blobs/%s", base, repo, dgst)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "polis/1.0")
	c.authorize(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download layer: http %s", resp.Status)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create layer file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("stream layer: %w", err)
	}
	return nil
}

// Pull runs the full §4.2 pipeline for name: parse, fetch manifest,
// config, and layers from the primary base URL, retry once against the
// registry's configured fallback on any failure, and finally fall back
// to a synthetic local image when both attempts fail and the caller's
// config allows it.
func (c *RegistryClient) Pull(ctx context.Context, name string) (*types.Image, error) {
	registry, repo, tag := ParseName(name)

	imageDir := filepath.Join(c.cacheDir, repo, tag)
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return nil, perr.New(perr.Image, "pull", fmt.Errorf("create cache dir: %w", err))
	}

	base, err := c.baseURL(registry)
	if err != nil {
		return nil, perr.New(perr.Image, "pull", err)
	}

	img, pullErr := c.pullFrom(ctx, base, registry, repo, tag, imageDir)
	if pullErr == nil {
		return img, nil
	}
	c.logger.Warn().Str("image", name).Str("registry", registry).Err(pullErr).Msg("pull failed against primary registry")

	if fallback := c.fallbackURL(registry); fallback != "" && fallback != base {
		img, fallbackErr := c.pullFrom(ctx, fallback, registry, repo, tag, imageDir)
		if fallbackErr == nil {
			c.logger.Info().Str("image", name).Msg("pull succeeded against fallback registry")
			return img, nil
		}
		c.logger.Warn().Str("image", name).Err(fallbackErr).Msg("pull failed against fallback registry")
	}

	if !c.cfg.AllowSyntheticFallback {
		return nil, perr.Newf(perr.Image, "pull", "unable to pull %q from any configured registry: %v", name, pullErr)
	}

	c.logger.Warn().Str("image", name).Msg("materializing synthetic local image: registry pull failed and allow_synthetic_fallback is set")
	return c.materializeSynthetic(repo, tag, imageDir)
}

func (c *RegistryClient) pullFrom(ctx context.Context, base, registry, repo, tag, imageDir string) (*types.Image, error) {
	token, err := c.acquireToken(ctx, repo)
	if err != nil {
		c.logger.Debug().Err(err).Msg("anonymous token acquisition failed, continuing unauthenticated")
	}

	manifest, manifestRaw, err := c.fetchManifest(ctx, base, repo, tag, token)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(imageDir, "manifest.json"), manifestRaw, 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	ociCfg, configRaw, err := c.fetchConfig(ctx, base, repo, manifest.Config.Digest, token)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(imageDir, "config.json"), configRaw, 0o644); err != nil {
		return nil, fmt.Errorf("write config: %w", err)
	}

	var totalSize int64
	digests := make([]string, 0, len(manifest.Layers))
	for i, layer := range manifest.Layers {
		layerPath := filepath.Join(imageDir, fmt.Sprintf("layer_%d.tar.gz", i))
		if err := c.downloadLayer(ctx, base, repo, layer.Digest, token, layerPath); err != nil {
			return nil, fmt.Errorf("download layer %d: %w", i, err)
		}
		totalSize += layer.Size
		digests = append(digests, string(layer.Digest))
	}

	img := &types.Image{
		ID:           types.ImageId(uuid.NewString()),
		Name:         repo,
		Tag:          tag,
		Digest:       string(manifest.Config.Digest),
		Size:         totalSize,
		CreatedAt:    time.Now(),
		Architecture: ociCfg.Architecture,
		OS:           ociCfg.OS,
		Layers:       digests,
		Config: types.ImageConfig{
			Entrypoint:   ociCfg.Config.Entrypoint,
			Cmd:          ociCfg.Config.Cmd,
			Env:          ociCfg.Config.Env,
			WorkingDir:   ociCfg.Config.WorkingDir,
			ExposedPorts: keysOf(ociCfg.Config.ExposedPorts),
			Volumes:      keysOf(ociCfg.Config.Volumes),
			Labels:       ociCfg.Config.Labels,
		},
	}

	if err := writeMetadata(imageDir, img); err != nil {
		return nil, err
	}
	return img, nil
}

// materializeSynthetic writes a single dummy layer plus a minimal
// manifest/config/metadata so dependent flows (tests, offline
// development) can proceed without a reachable registry. This path is
// never silent: callers are warned before it is taken.
func (c *RegistryClient) materializeSynthetic(repo, tag, imageDir string) (*types.Image, error) {
	dummyLayer := []byte("polis-synthetic-layer\n")
	if err := os.WriteFile(filepath.Join(imageDir, "layer_0.tar.gz"), dummyLayer, 0o644); err != nil {
		return nil, fmt.Errorf("write synthetic layer: %w", err)
	}

	syntheticDigest := digest.Digest("sha256:synthetic0000000000000000000000000000000000000000000000000000")
	manifest := OciManifest{
		SchemaVersion: 2,
		MediaType:     "application/vnd.oci.image.manifest.v1+json",
		Config:        ocispec.Descriptor{MediaType: "application/vnd.oci.image.config.v1+json", Digest: syntheticDigest, Size: 0},
		Layers:        []ocispec.Descriptor{{MediaType: "application/vnd.oci.image.layer.v1.tar+gzip", Digest: syntheticDigest, Size: int64(len(dummyLayer))}},
	}
	if err := writeJSON(filepath.Join(imageDir, "manifest.json"), manifest); err != nil {
		return nil, err
	}

	ociCfg := OciConfig{Architecture: "amd64", OS: "linux"}
	if err := writeJSON(filepath.Join(imageDir, "config.json"), ociCfg); err != nil {
		return nil, err
	}

	img := &types.Image{
		ID:           types.ImageId(uuid.NewString()),
		Name:         repo,
		Tag:          tag,
		Digest:       string(syntheticDigest),
		Size:         int64(len(dummyLayer)),
		CreatedAt:    time.Now(),
		Architecture: ociCfg.Architecture,
		OS:           ociCfg.OS,
		Layers:       []string{string(syntheticDigest)},
	}
	if err := writeMetadata(imageDir, img); err != nil {
		return nil, err
	}
	return img, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeMetadata persists metadata.json, always the final step of a
// successful pull (§4.2, §6): its presence is what makes an image
// directory visible to ListImages.
func writeMetadata(imageDir string, img *types.Image) error {
	return writeJSON(filepath.Join(imageDir, "metadata.json"), img)
}

func keysOf(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
