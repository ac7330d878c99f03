// Package image implements the C2 OCI image store and pull pipeline
// (§4.2): name parsing, a registry client speaking OCI distribution
// v2, a content-addressed on-disk cache whose metadata.json files are
// the source of truth for listings, cleanup, and a local search
// catalogue.
package image
