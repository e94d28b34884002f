package service

// Role is the role a node plays within a service. Services with a single
// coordinator (namenode, resourcemanager, ...) assign RoleMaster to exactly
// one node; fully symmetric services treat every node as a worker.
type Role int

const (
	RoleWorker Role = iota
	RoleMaster
)

func (r Role) String() string {
	if r == RoleMaster {
		return "master"
	}
	return "worker"
}

// Roles returns the role for each of n nodes. Assignment is purely
// positional: the node at index 0 is the master, all others are workers.
// There is no dynamic election.
func Roles(n int) []Role {
	roles := make([]Role, n)
	if n > 0 {
		roles[0] = RoleMaster
	}
	return roles
}
