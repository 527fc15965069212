package ext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubesd/qubesd/internal/qubesd/domain"
	"github.com/qubesd/qubesd/pkg/property"
)

func newLinked(t *testing.T, col *domain.Collection, qid int, name string, template string) *domain.Domain {
	t.Helper()
	d, err := domain.New(qid, name, domain.VariantAppVM)
	require.NoError(t, err)
	require.NoError(t, col.Alloc.Reserve(qid))
	require.NoError(t, col.Add(d))
	if template != "" {
		require.NoError(t, d.Set("template", template))
	}
	return d
}

func TestEffectiveFeature_OwnValueWins(t *testing.T) {
	t.Parallel()

	col := domain.NewCollection()
	tmpl := newLinked(t, col, 1, "debian-12", "")
	tmpl.Features.Set("service.networkmanager", "1")

	child := newLinked(t, col, 2, "work", "debian-12")
	child.Features.Set("service.networkmanager", "0")

	v, ok := EffectiveFeature(col, child, "service.networkmanager")
	require.True(t, ok)
	assert.Equal(t, "0", v)
}

func TestEffectiveFeature_ReadsThroughTemplate(t *testing.T) {
	t.Parallel()

	col := domain.NewCollection()
	tmpl := newLinked(t, col, 1, "debian-12", "")
	tmpl.Features.Set("service.networkmanager", "1")

	child := newLinked(t, col, 2, "work", "debian-12")

	v, ok := EffectiveFeature(col, child, "service.networkmanager")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	// Changing the template after the child exists is visible immediately
	// — this is the "read-through, not copy" contract.
	tmpl.Features.Set("service.networkmanager", "0")
	v, ok = EffectiveFeature(col, child, "service.networkmanager")
	require.True(t, ok)
	assert.Equal(t, "0", v)
}

func TestEffectiveFeature_Unset(t *testing.T) {
	t.Parallel()

	col := domain.NewCollection()
	newLinked(t, col, 1, "debian-12", "")
	child := newLinked(t, col, 2, "work", "debian-12")

	_, ok := EffectiveFeature(col, child, "service.nonexistent")
	assert.False(t, ok)
}

func TestInstallServices_RespondsToFeaturesRequest(t *testing.T) {
	t.Parallel()

	col := domain.NewCollection()
	tmpl := newLinked(t, col, 1, "debian-12", "")
	tmpl.Features.Set("service.networkmanager", "1")
	child := newLinked(t, col, 2, "work", "debian-12")

	reg := NewRegistry()
	InstallServices(reg, col)

	require.Len(t, reg.List(), 1)
	assert.Equal(t, "services", reg.List()[0].Name)

	results, err := child.FireSync(false, "features-request", property.Args{
		"untrusted_requested": []string{"service.networkmanager"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	resolved, ok := results[0].(property.Args)
	require.True(t, ok)
	assert.Equal(t, "1", resolved["service.networkmanager"])
}
