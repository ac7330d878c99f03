// Package volume implements the C4 volume manager (§4.4): a pluggable
// driver interface, a Local bind-mount driver, and a Manager that
// tracks ref-counted mounts so a volume can be proven in_use before
// removal. Volumes are named, host-local, and independent of any
// scheduler or node-affinity concept.
package volume
