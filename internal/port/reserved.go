package port

import "sort"

// ReservedPortProvider supplies the statically configured ports that must
// never be allocated. config.Config implements it.
type ReservedPortProvider interface {
	ManagerPort() int
	HTTPSPort() int
	ReservedPorts() []int
}

// ReservedPorts is a set of ports excluded from allocation regardless of
// what the OS reports. The zero value reserves nothing.
type ReservedPorts struct {
	set map[int]struct{}
}

// NewReservedPorts builds a ReservedPorts set. Non-positive values are
// ignored so that an unset port in configuration does not reserve 0.
func NewReservedPorts(ports ...int) ReservedPorts {
	set := make(map[int]struct{}, len(ports))
	for _, p := range ports {
		if p > 0 {
			set[p] = struct{}{}
		}
	}
	return ReservedPorts{set: set}
}

// ReservedFrom builds the reserved set from a configuration provider.
func ReservedFrom(p ReservedPortProvider) ReservedPorts {
	ports := append([]int{p.ManagerPort(), p.HTTPSPort()}, p.ReservedPorts()...)
	return NewReservedPorts(ports...)
}

// Contains reports whether port is reserved.
func (r ReservedPorts) Contains(port int) bool {
	_, ok := r.set[port]
	return ok
}

// Ports returns the reserved ports in ascending order.
func (r ReservedPorts) Ports() []int {
	ports := make([]int, 0, len(r.set))
	for p := range r.set {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}
