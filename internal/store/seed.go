package store

import "time"

// SeedProjects is the built-in dataset adopted when neither the remote API
// nor the local mirror has anything to offer.
func SeedProjects() []Project {
	base := time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)
	return []Project{
		{
			ID:          "1",
			Name:        "Spring Campaign Landing Page",
			Description: "Seasonal landing page for the spring product launch.",
			Content:     "<h1>Spring into savings</h1><p>Discover the new collection.</p>",
			Status:      StatusMarketingReviewInProgress,
			Category:    "Campaign",
			LastUpdated: base,
			Thumbnail:   "/thumbnails/spring-campaign.png",
		},
		{
			ID:          "2",
			Name:        "Product Comparison Microsite",
			Description: "Feature-by-feature comparison of the current plan tiers.",
			Content:     "<h1>Compare plans</h1><p>Find the plan that fits your team.</p>",
			Status:      StatusReadyForComplianceReview,
			Category:    "Product",
			LastUpdated: base.Add(48 * time.Hour),
		},
		{
			ID:          "3",
			Name:        "Customer Stories Hub",
			Description: "Case studies and testimonials from enterprise customers.",
			Content:     "<h1>Customer stories</h1><p>How teams ship faster with us.</p>",
			Status:      StatusDeployed,
			Category:    "Brand",
			LastUpdated: base.Add(96 * time.Hour),
			URL:         "https://example.com/customers",
		},
	}
}
