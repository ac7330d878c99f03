// Package runtime implements the container lifecycle engine (§4.1): the
// Created/Running/Paused/Stopped/Removed state machine, the
// create/start/stop/pause/unpause/remove/get/list operations, and the
// process table that supervises each Running container's primary task.
//
// Engine owns the container table and coordinates with C2 (image
// materialization), C3 (security profile composition), and C4 (volume
// reservation) at start time. ContainerDriver is the pluggable execution
// backend beneath it; ContainerdDriver is the production implementation,
// talking to a containerd daemon over its client API.
package runtime
