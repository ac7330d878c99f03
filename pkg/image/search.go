package image

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wendelmax/polis/pkg/types"
)

// catalogEntry is one row of the built-in search catalogue, the same
// fixed official/community split the original search facade simulates
// in lieu of a real per-registry search API.
type catalogEntry struct {
	name      string
	desc      string
	stars     int
	official  bool
	trusted   bool
	automated bool
}

var officialCatalog = []catalogEntry{
	{"nginx", "High performance web server", 50000, true, true, true},
	{"redis", "In-memory data structure store", 30000, true, true, true},
	{"postgres", "Object-relational database system", 25000, true, true, true},
	{"mysql", "Popular open source database", 20000, true, true, true},
	{"node", "JavaScript runtime built on Chrome's V8", 15000, true, true, true},
	{"python", "Python programming language", 12000, true, true, true},
	{"alpine", "Minimal Docker image based on Alpine Linux", 8000, true, true, true},
	{"ubuntu", "Ubuntu base image", 6000, true, true, true},
	{"centos", "CentOS base image", 4000, true, true, true},
	{"debian", "Debian base image", 3000, true, true, true},
}

var communityCatalog = []catalogEntry{
	{"wordpress", "WordPress content management system", 5000, false, false, false},
	{"mongo", "MongoDB document database", 3000, false, false, false},
	{"elasticsearch", "Distributed search and analytics engine", 2000, false, false, false},
	{"grafana", "Analytics and monitoring platform", 1500, false, false, false},
	{"prometheus", "Monitoring system and time series database", 1000, false, false, false},
}

// Searcher answers search_images against the built-in catalogue,
// caching results by (query, options) the way §4.2 requires.
type Searcher struct {
	registries []string

	mu    sync.Mutex
	cache map[string][]types.SearchResult
}

// NewSearcher constructs a Searcher that fans a query out across
// registries.
func NewSearcher(registries []string) *Searcher {
	return &Searcher{
		registries: registries,
		cache:      make(map[string][]types.SearchResult),
	}
}

func cacheKey(query string, opts types.SearchOptions) string {
	return fmt.Sprintf("%s|%s|%t|%t|%t|%d", query, opts.Registry, opts.Official, opts.Trusted, opts.Automated, opts.MinStars)
}

// Search returns catalogue entries matching query (substring,
// case-insensitive) across all configured registries, filtered by
// opts and sorted by stars descending.
func (s *Searcher) Search(query string, opts types.SearchOptions) []types.SearchResult {
	key := cacheKey(query, opts)

	s.mu.Lock()
	if cached, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	var results []types.SearchResult
	for _, registry := range s.registries {
		results = append(results, searchRegistry(registry, query, opts)...)
	}

	filtered := applyFilters(results, opts)
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Stars > filtered[j].Stars })

	s.mu.Lock()
	s.cache[key] = filtered
	s.mu.Unlock()

	return filtered
}

func searchRegistry(registry, query string, opts types.SearchOptions) []types.SearchResult {
	q := strings.ToLower(query)
	var out []types.SearchResult

	for _, e := range officialCatalog {
		if strings.Contains(strings.ToLower(e.name), q) {
			out = append(out, toSearchResult(registry, e))
		}
	}
	if !opts.Official {
		for _, e := range communityCatalog {
			if strings.Contains(strings.ToLower(e.name), q) {
				out = append(out, toSearchResult(registry, e))
			}
		}
	}
	return out
}

func toSearchResult(registry string, e catalogEntry) types.SearchResult {
	return types.SearchResult{
		Name:        fmt.Sprintf("%s/%s", registry, e.name),
		Description: e.desc,
		Registry:    registry,
		Stars:       e.stars,
		Official:    e.official,
		Trusted:     e.trusted,
		Automated:   e.automated,
	}
}

func applyFilters(results []types.SearchResult, opts types.SearchOptions) []types.SearchResult {
	out := results[:0:0]
	for _, r := range results {
		if opts.Official && !r.Official {
			continue
		}
		if opts.Trusted && !r.Trusted {
			continue
		}
		if opts.Automated && !r.Automated {
			continue
		}
		if opts.MinStars > 0 && r.Stars < opts.MinStars {
			continue
		}
		if opts.Registry != "" && r.Registry != opts.Registry {
			continue
		}
		out = append(out, r)
	}
	return out
}
