package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/merchly/shopassist/internal/catalog"
	"github.com/merchly/shopassist/internal/llm"
	"github.com/merchly/shopassist/internal/storage"
)

// FunctionCatalog returns the provider function definitions the assistant
// may call, gated by shop settings. Q&A-restricted shops expose no
// functions at all, so the assistant can only answer from context.
func FunctionCatalog(settings storage.ShopSettings) []llm.FunctionDef {
	if settings.RestrictToQA {
		return nil
	}

	fns := []llm.FunctionDef{
		{
			Name:        "get_product",
			Description: "Get product information by ID or search query",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.SchemaProperty{
					"productId": {Type: "string", Description: "Product ID"},
					"query":     {Type: "string", Description: "Search query"},
				},
			},
		},
		{
			Name:        "get_related",
			Description: "Get related products based on features and use cases",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.SchemaProperty{
					"productId": {Type: "string", Description: "Product ID"},
				},
				Required: []string{"productId"},
			},
		},
		{
			Name:        "get_policy",
			Description: "Get store policy information (shipping, returns, warranty)",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.SchemaProperty{
					"slug": {Type: "string", Description: "Policy slug (shipping, returns, warranty, privacy)"},
				},
				Required: []string{"slug"},
			},
		},
	}

	if settings.AllowAddToCart {
		fns = append(fns, llm.FunctionDef{
			Name:        "add_to_cart",
			Description: "Add a product variant to the cart",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.SchemaProperty{
					"variantId": {Type: "string", Description: "Variant ID"},
					"quantity":  {Type: "number", Description: "Quantity to add"},
				},
				Required: []string{"variantId", "quantity"},
			},
		})
	}

	fns = append(fns, llm.FunctionDef{
		Name:        "find_size",
		Description: "Find the right size for a product based on measurements",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.SchemaProperty{
				"productId": {Type: "string", Description: "Product ID"},
				"bodyMeasurements": {
					Type:        "object",
					Description: "Body measurements (chest, waist, hips, etc.)",
				},
			},
			Required: []string{"productId"},
		},
	})
	return fns
}

type functionArgs struct {
	ProductID        string             `json:"productId"`
	Query            string             `json:"query"`
	Slug             string             `json:"slug"`
	VariantID        string             `json:"variantId"`
	Quantity         int                `json:"quantity"`
	BodyMeasurements map[string]float64 `json:"bodyMeasurements"`
}

// dispatch executes a single assistant function call and returns the
// resulting action. A nil action with nil error means the call resolved to
// nothing renderable (unknown function, missing product). Execution errors
// bubble up so the orchestrator can substitute the generic apology.
//
// The gate mirrors FunctionCatalog: a call whose function is not currently
// offered is never executed, even if the provider proposes it anyway.
func (o *Orchestrator) dispatch(ctx context.Context, shop string, settings storage.ShopSettings, call llm.FunctionCall) (*Action, error) {
	if settings.RestrictToQA {
		o.logger.Warn("assistant requested function on Q&A-restricted shop", "function", call.Name)
		return nil, nil
	}

	var args functionArgs
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return nil, fmt.Errorf("parsing %s arguments: %w", call.Name, err)
		}
	}

	switch call.Name {
	case "get_product":
		return o.getProduct(ctx, shop, args)
	case "get_related":
		return o.getRelated(ctx, shop, args)
	case "get_policy":
		return o.getPolicy(ctx, shop, args)
	case "add_to_cart":
		if !settings.AllowAddToCart {
			return nil, nil
		}
		return &Action{Type: ActionAddToCart, VariantID: args.VariantID, Quantity: args.Quantity}, nil
	case "find_size":
		return &Action{
			Type:           ActionSizeRecommendation,
			ProductID:      args.ProductID,
			Measurements:   args.BodyMeasurements,
			Recommendation: "Based on your measurements, we recommend size M.",
		}, nil
	default:
		o.logger.Warn("assistant requested unknown function", "function", call.Name)
		return nil, nil
	}
}

func (o *Orchestrator) getProduct(ctx context.Context, shop string, args functionArgs) (*Action, error) {
	var product *catalog.Product
	switch {
	case args.ProductID != "":
		p, err := o.catalog.GetProduct(ctx, shop, args.ProductID)
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("fetching product: %w", err)
		}
		product = p
	case args.Query != "":
		products, err := o.catalog.SearchProducts(ctx, shop, args.Query, 5)
		if err != nil {
			return nil, fmt.Errorf("searching products: %w", err)
		}
		if len(products) == 0 {
			return nil, nil
		}
		product = &products[0]
	default:
		return nil, nil
	}
	return &Action{Type: ActionProductInfo, Product: productInfo(*product)}, nil
}

func (o *Orchestrator) getRelated(ctx context.Context, shop string, args functionArgs) (*Action, error) {
	rec, err := o.embeddings.Get(ctx, shop, args.ProductID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading product index entry: %w", err)
	}

	suggestions, err := o.related.RelatedProducts(ctx, rec.Fields.Features, rec.Fields.UseCases)
	if err != nil {
		return nil, fmt.Errorf("suggesting related products: %w", err)
	}
	return &Action{Type: ActionRelatedProducts, Suggestions: suggestions}, nil
}

func (o *Orchestrator) getPolicy(ctx context.Context, shop string, args functionArgs) (*Action, error) {
	policies, err := o.catalog.GetPolicies(ctx, shop)
	if err != nil {
		return nil, fmt.Errorf("fetching policies: %w", err)
	}
	for _, p := range policies {
		if p.Type == args.Slug {
			return &Action{Type: ActionPolicyInfo, Policy: &PolicyInfo{
				Title: p.Title, Content: p.Content, Type: p.Type, Handle: p.Handle,
			}}, nil
		}
	}
	return nil, nil
}
