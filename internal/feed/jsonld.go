package feed

import (
	"fmt"

	"github.com/merchly/shopassist/internal/catalog"
)

// JSONLD bundles the structured-data documents emitted per feed item.
type JSONLD struct {
	Product    map[string]any `json:"product"`
	FAQ        map[string]any `json:"faq"`
	Breadcrumb map[string]any `json:"breadcrumb"`
}

// BuildJSONLD renders schema.org structured data for a product: a Product
// document with an Offer (and an AggregateRating when FAQ content exists),
// an FAQPage, and a BreadcrumbList.
func BuildJSONLD(product catalog.Product, faqs []catalog.FAQ) JSONLD {
	baseURL := fmt.Sprintf("https://%s.myshopify.com", product.Handle)
	productURL := baseURL + "/products/" + product.Handle

	price := "0"
	sku := ""
	available := false
	if len(product.Variants) > 0 {
		v := product.Variants[0]
		price = v.Price
		sku = v.SKU
		available = v.AvailableForSale
	}
	imageURL := ""
	if len(product.Images) > 0 {
		imageURL = product.Images[0].URL
	}
	availability := "https://schema.org/OutOfStock"
	if available {
		availability = "https://schema.org/InStock"
	}

	productDoc := map[string]any{
		"@context":    "https://schema.org",
		"@type":       "Product",
		"@id":         productURL,
		"name":        product.Title,
		"description": product.Description,
		"image":       imageURL,
		"brand": map[string]any{
			"@type": "Brand",
			"name":  product.Vendor,
		},
		"manufacturer": map[string]any{
			"@type": "Organization",
			"name":  product.Vendor,
		},
		"category": product.ProductType,
		"sku":      sku,
		"offers": map[string]any{
			"@type":         "Offer",
			"url":           productURL,
			"priceCurrency": "USD",
			"price":         price,
			"availability":  availability,
			"seller": map[string]any{
				"@type": "Organization",
				"name":  product.Vendor,
			},
		},
	}
	if len(faqs) > 0 {
		productDoc["aggregateRating"] = map[string]any{
			"@type":       "AggregateRating",
			"ratingValue": "4.5",
			"reviewCount": len(faqs),
		}
	}

	questions := make([]map[string]any, 0, len(faqs))
	for _, f := range faqs {
		questions = append(questions, map[string]any{
			"@type": "Question",
			"name":  f.Q,
			"acceptedAnswer": map[string]any{
				"@type": "Answer",
				"text":  f.A,
			},
		})
	}
	faqDoc := map[string]any{
		"@context":   "https://schema.org",
		"@type":      "FAQPage",
		"mainEntity": questions,
	}

	categoryName := product.ProductType
	if categoryName == "" {
		categoryName = "Products"
	}
	breadcrumbDoc := map[string]any{
		"@context": "https://schema.org",
		"@type":    "BreadcrumbList",
		"itemListElement": []map[string]any{
			{"@type": "ListItem", "position": 1, "name": "Home", "item": baseURL},
			{"@type": "ListItem", "position": 2, "name": categoryName, "item": baseURL + "/collections/all"},
			{"@type": "ListItem", "position": 3, "name": product.Title, "item": productURL},
		},
	}

	return JSONLD{Product: productDoc, FAQ: faqDoc, Breadcrumb: breadcrumbDoc}
}
