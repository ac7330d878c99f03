/*
Package security implements the Security Sandbox Composer (C3): it
derives a SecurityProfile for a container from one of three presets and,
where the host supports it, loads a MAC (AppArmor/SELinux) profile before
the container's child process is spawned.

C3 never spawns anything itself — pkg/runtime consults it at
start_container time and applies the returned profile (namespaces,
cgroup limits, capabilities, seccomp, MAC label) to the child.

# Presets

Default grants the conventional runtime capability set with every
standard hardening knob (masked /proc paths, read-only /proc subtrees,
no_new_privileges). HighSecurity adds a user namespace, trims
capabilities to the minimum a rootless workload needs, and makes the
rootfs read-only. Privileged grants ALL capabilities and disables every
sandbox restriction — callers choose it deliberately, it is never a
default.

# MAC availability

AppArmor and SELinux are both optional; a host lacking either leaves the
corresponding profile field unset rather than failing create_container_profile.
Composer.apparmor and Composer.selinux each expose an IsAvailable probe so
callers (and tests) can distinguish "not applied because unavailable"
from "not applied because not requested".
*/
package security
