package agent

import (
	"github.com/JakeFAU/nmkr-support-router/internal/catalog"
	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

// SpecialistInput is what a specialist sees.
type SpecialistInput struct {
	Request    support.Request
	Structured string
	Links      []string
}

// Brief tells the pipeline how to research and draft a specialist answer.
type Brief struct {
	Role         string
	Instructions string
	URLs         []string
}

// Specialist turns routed input into a Brief.
type Specialist func(SpecialistInput) Brief

const (
	pricingURL = "https://www.nmkr.io/pricing"
	docsURL    = "https://docs.nmkr.io/"
)

// SpecialistFor returns the specialist for category. Unknown categories get
// the user specialist.
func SpecialistFor(category support.Category) Specialist {
	switch category {
	case support.CategoryBusiness:
		return businessSpecialist
	case support.CategoryTechnical:
		return technicalSpecialist
	default:
		return userSpecialist
	}
}

func businessSpecialist(in SpecialistInput) Brief {
	return Brief{
		Role: "You are an NMKR Business Development Specialist. You deliver business information such as " +
			"pricing, partnerships and strategic insights.",
		Instructions: "Use the research notes to add pertinent business information such as pricing details " +
			"and partnership opportunities. Quote prices exactly as the notes state them.",
		URLs: withFirst(in.Links, pricingURL),
	}
}

func userSpecialist(in SpecialistInput) Brief {
	return Brief{
		Role: "You are an NMKR User Support Specialist. You give clear step-by-step guidance, troubleshooting " +
			"and best practices for NMKR services.",
		Instructions: "Use the research notes to write how-to steps and troubleshooting tips for the request.",
		URLs:         orDefault(in.Links, docsURL),
	}
}

func technicalSpecialist(in SpecialistInput) Brief {
	return Brief{
		Role: "You are an NMKR Technical Support Specialist. You provide in-depth technical answers about the " +
			"Studio API, NMKR Studio features and Cardano integration.",
		Instructions: "Use the research notes to include technical details such as API endpoints, parameters " +
			"and Studio features. Consult the Swagger API definition for anything API or code related.",
		URLs: withFirst(in.Links, catalog.SwaggerURL),
	}
}

// withFirst puts first at the head of links, removing any later copy.
func withFirst(links []string, first string) []string {
	out := []string{first}
	for _, l := range links {
		if l != first {
			out = append(out, l)
		}
	}
	return out
}

func orDefault(links []string, fallback string) []string {
	if len(links) == 0 {
		return []string{fallback}
	}
	return append([]string(nil), links...)
}
