package topology

import "errors"

// ErrBadCPU is returned when a CPU id is not part of the discovered
// topology, or a socket id has no known CPUs.
var ErrBadCPU = errors.New("topology: unknown CPU or socket id")
