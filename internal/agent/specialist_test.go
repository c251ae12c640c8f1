package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nmkr-support-router/internal/catalog"
	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

func TestSpecialistFor(t *testing.T) {
	t.Parallel()

	links := []string{"https://docs.nmkr.io/nmkr-studio/airdrops", pricingURL}

	business := SpecialistFor(support.CategoryBusiness)(SpecialistInput{Links: links})
	require.Equal(t, []string{pricingURL, "https://docs.nmkr.io/nmkr-studio/airdrops"}, business.URLs)
	require.Contains(t, business.Role, "Business Development")

	technical := SpecialistFor(support.CategoryTechnical)(SpecialistInput{Links: links})
	require.Equal(t, catalog.SwaggerURL, technical.URLs[0])
	require.Len(t, technical.URLs, 3)
	require.Contains(t, technical.Instructions, "Swagger")

	user := SpecialistFor(support.CategoryUser)(SpecialistInput{})
	require.Equal(t, []string{docsURL}, user.URLs)

	unknown := SpecialistFor(support.Category("sales"))(SpecialistInput{Links: links})
	require.Equal(t, links, unknown.URLs)
}
