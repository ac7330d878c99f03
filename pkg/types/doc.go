/*
Package types defines the data model shared by Polis's five core
components: the runtime engine (C1), the image store (C2), the security
composer (C3), the volume manager (C4), and the orchestrator (C5).

# Ownership

Each type is owned by exactly one component, which is the only writer of
that type's mutable fields:

  - Container: pkg/runtime
  - Image: pkg/image
  - Volume: pkg/volume
  - SecurityProfile: pkg/security
  - Deployment, Service, ScalingPolicy, ScalingAction: pkg/orchestrator

Other packages receive snapshots (copies or read-only views) rather than
references into an owner's live state. This package itself holds no
behavior beyond simple predicates (Volume.InUse) and no locking; callers
synchronize through the owning component.

# IDs

ContainerId, ImageId, and DeploymentId are opaque strings minted by their
owning component (from google/uuid).
Treat them as opaque; never parse structure out of one.
*/
package types
