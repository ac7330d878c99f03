package image

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseNameBareLibraryImage(t *testing.T) {
	registry, repo, tag := ParseName("nginx")
	assert.Equal(t, "docker.io", registry)
	assert.Equal(t, "library/nginx", repo)
	assert.Equal(t, "latest", tag)
}

func TestParseNameBareLibraryImageWithTag(t *testing.T) {
	registry, repo, tag := ParseName("nginx:1.25")
	assert.Equal(t, "docker.io", registry)
	assert.Equal(t, "library/nginx", repo)
	assert.Equal(t, "1.25", tag)
}

func TestParseNameDockerHubNamespacedRepo(t *testing.T) {
	registry, repo, tag := ParseName("myorg/myapp")
	assert.Equal(t, "docker.io", registry)
	assert.Equal(t, "myorg/myapp", repo)
	assert.Equal(t, "latest", tag)
}

func TestParseNameExplicitRegistryHost(t *testing.T) {
	registry, repo, tag := ParseName("registry.example.com/team/app:v2")
	assert.Equal(t, "registry.example.com", registry)
	assert.Equal(t, "team/app", repo)
	assert.Equal(t, "v2", tag)
}

func TestParseNameQuayIO(t *testing.T) {
	registry, repo, tag := ParseName("quay.io/coreos/etcd")
	assert.Equal(t, "quay.io", registry)
	assert.Equal(t, "coreos/etcd", repo)
	assert.Equal(t, "latest", tag)
}
