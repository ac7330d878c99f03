package image

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendelmax/polis/pkg/types"
)

func TestSearchFindsOfficialMatch(t *testing.T) {
	s := NewSearcher([]string{"docker.io"})
	results := s.Search("nginx", types.SearchOptions{})
	require.NotEmpty(t, results)
	assert.Equal(t, "docker.io/nginx", results[0].Name)
	assert.True(t, results[0].Official)
}

func TestSearchOfficialOnlyExcludesCommunity(t *testing.T) {
	s := NewSearcher([]string{"docker.io"})
	results := s.Search("mongo", types.SearchOptions{Official: true})
	assert.Empty(t, results)

	results = s.Search("mongo", types.SearchOptions{})
	require.Len(t, results, 1)
	assert.False(t, results[0].Official)
}

func TestSearchMinStarsFilter(t *testing.T) {
	s := NewSearcher([]string{"docker.io"})
	results := s.Search("n", types.SearchOptions{MinStars: 20000})
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Stars, 20000)
	}
}

func TestSearchResultsSortedByStarsDescending(t *testing.T) {
	s := NewSearcher([]string{"docker.io"})
	results := s.Search("e", types.SearchOptions{})
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Stars, results[i].Stars)
	}
}

func TestSearchIsCached(t *testing.T) {
	s := NewSearcher([]string{"docker.io", "quay.io"})
	first := s.Search("nginx", types.SearchOptions{})
	second := s.Search("nginx", types.SearchOptions{})
	assert.Equal(t, first, second)
}

func TestSearchRegistryFilter(t *testing.T) {
	s := NewSearcher([]string{"docker.io", "quay.io"})
	results := s.Search("nginx", types.SearchOptions{Registry: "quay.io"})
	for _, r := range results {
		assert.Equal(t, "quay.io", r.Registry)
	}
}
