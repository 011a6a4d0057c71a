package classification

import (
	"testing"

	"github.com/stretchr/testify/require"

	"custodia/pkg/domain"
)

func TestRegistryDefaults(t *testing.T) {
	r := NewRegistry()

	require.Equal(t, domain.ClassificationInternal, r.Classify("users", "unlisted"))
	require.Equal(t, domain.OriginObserved, r.Origin("users", "unlisted"))
	require.False(t, r.RequiresEncryption("users", "unlisted"))
}

func TestRegistryLookups(t *testing.T) {
	r := NewRegistry()
	r.Set(FieldClassification{
		EntityType: "users", Field: "email",
		Level: domain.ClassificationRestricted, Origin: domain.OriginSelfProvided,
	})
	r.Set(FieldClassification{
		EntityType: "users", Field: "salary",
		Level: domain.ClassificationConfidential, Origin: domain.OriginDerived,
	})

	require.True(t, r.RequiresEncryption("users", "email"))
	require.False(t, r.RequiresEncryption("users", "salary"))
	require.Equal(t, domain.OriginSelfProvided, r.Origin("users", "email"))

	fields := r.SensitiveFields("users", domain.ClassificationConfidential)
	require.ElementsMatch(t, []string{"email", "salary"}, fields)

	restricted := r.SensitiveFields("users", domain.ClassificationRestricted)
	require.Equal(t, []string{"email"}, restricted)
}

func TestRequiresMask(t *testing.T) {
	r := NewRegistry()

	// Readers see fields at or below their own tier.
	require.True(t, r.RequiresMask(domain.ClassificationConfidential, domain.ClassificationInternal))
	require.False(t, r.RequiresMask(domain.ClassificationConfidential, domain.ClassificationConfidential))
	require.False(t, r.RequiresMask(domain.ClassificationInternal, domain.ClassificationInternal))
	require.True(t, r.RequiresMask(domain.ClassificationRestricted, domain.ClassificationConfidential))
}

func TestUnknownLevelFailsClosed(t *testing.T) {
	var bogus domain.ClassificationLevel = "top-secret"

	// An unrecognized field level compares as the most sensitive tier, so a
	// misconfigured classification is masked rather than disclosed.
	require.True(t, NewRegistry().RequiresMask(bogus, domain.ClassificationInternal))
	require.True(t, NewRegistry().RequiresMask(bogus, domain.ClassificationRestricted))

	// An unrecognized reader level grants nothing: a typo in the requester's
	// tier must mask everything sensitive, never clear it.
	require.True(t, NewRegistry().RequiresMask(domain.ClassificationConfidential, bogus))
	require.True(t, NewRegistry().RequiresMask(domain.ClassificationRestricted, bogus))
	require.True(t, NewRegistry().RequiresMask(bogus, bogus))
	require.False(t, NewRegistry().RequiresMask(domain.ClassificationPublic, bogus))
}
