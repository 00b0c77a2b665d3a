// Package wayland is a minimal client for the Wayland wire protocol: it
// frames requests, passes file descriptors as SCM_RIGHTS ancillary data,
// splits the inbound byte stream into event messages and reports socket
// readiness. It knows the opcodes of the handful of interfaces waysn talks
// to and nothing about their semantics.
package wayland
