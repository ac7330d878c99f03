package image

import "strings"

// ParseName splits a user-supplied image reference into
// (registry, repository, tag) per §4.2's rules: the first slash
// segment is the registry only when it looks like a host (contains a
// dot, or is exactly quay.io); otherwise everything belongs to
// docker.io, and a bare name (no slash at all) is implicitly under
// "library/".
func ParseName(name string) (registry, repo, tag string) {
	tag = "latest"

	if idx := strings.Index(name, "/"); idx >= 0 {
		registryPart := name[:idx]
		repoPart := name[idx+1:]
		if strings.Contains(registryPart, ".") || registryPart == "quay.io" {
			registry = registryPart
			repo = repoPart
		} else {
			registry = "docker.io"
			repo = name
		}
	} else {
		registry = "docker.io"
		repo = "library/" + name
	}

	if strings.Contains(repo, ":") {
		parts := strings.Split(repo, ":")
		if len(parts) == 2 {
			repo = parts[0]
			tag = parts[1]
		}
	}

	return registry, repo, tag
}
