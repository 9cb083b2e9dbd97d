package pairing

import (
	"testing"

	"coordinator/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy_Resolve(t *testing.T) {
	p := DefaultPolicy()

	cases := map[string]domain.Role{
		"robot":      domain.RoleRobot,
		"wearable":   domain.RoleWearable,
		"spectacles": domain.RoleWearable,
		" Robot ":    domain.RoleRobot,
	}
	for tag, want := range cases {
		got, ok := p.Resolve(tag)
		assert.True(t, ok, tag)
		assert.Equal(t, want, got, tag)
	}

	_, ok := p.Resolve("toaster")
	assert.False(t, ok)
	_, ok = p.Resolve("")
	assert.False(t, ok)
}

func TestDefaultPolicy_Compatible(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.Compatible(domain.RoleRobot, domain.RoleWearable))
	assert.True(t, p.Compatible(domain.RoleWearable, domain.RoleRobot))
	assert.False(t, p.Compatible(domain.RoleRobot, domain.RoleRobot))
	assert.Equal(t, []domain.Role{domain.RoleWearable, domain.RoleRobot}, p.Roles())
}

func TestNewPolicy_Errors(t *testing.T) {
	_, err := NewPolicy(nil, nil, nil)
	assert.Error(t, err)

	_, err = NewPolicy([]domain.Role{"a"}, map[string]domain.Role{"x": "b"}, nil)
	assert.Error(t, err)

	_, err = NewPolicy([]domain.Role{"a"}, nil, [][2]domain.Role{{"a", "b"}})
	assert.Error(t, err)
}

func TestNewPolicy_NoPairsMeansOpposite(t *testing.T) {
	p, err := NewPolicy([]domain.Role{"a", "b", "c"}, nil, nil)
	require.NoError(t, err)
	assert.True(t, p.Compatible("a", "c"))
	assert.False(t, p.Compatible("b", "b"))
}
