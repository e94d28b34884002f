package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRolesFirstNodeIsMaster(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4} {
		roles := Roles(n)
		assert.Len(t, roles, n)
		assert.Equal(t, RoleMaster, roles[0])
		for i := 1; i < n; i++ {
			assert.Equal(t, RoleWorker, roles[i], "node %d of %d", i, n)
		}
	}
}

func TestRolesEmpty(t *testing.T) {
	assert.Empty(t, Roles(0))
}
