package chat

import (
	"context"
	"testing"

	"github.com/merchly/shopassist/internal/catalog"
	"github.com/merchly/shopassist/internal/embedding"
	"github.com/merchly/shopassist/internal/llm"
	"github.com/merchly/shopassist/internal/seo"
	"github.com/merchly/shopassist/internal/storage"
)

func functionNames(fns []llm.FunctionDef) []string {
	names := make([]string, len(fns))
	for i, f := range fns {
		names[i] = f.Name
	}
	return names
}

func TestFunctionCatalog_DefaultSet(t *testing.T) {
	fns := FunctionCatalog(storage.DefaultSettings("shop-a"))
	want := []string{"get_product", "get_related", "get_policy", "find_size"}
	got := functionNames(fns)
	if len(got) != len(want) {
		t.Fatalf("functions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("function[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFunctionCatalog_AddToCartGated(t *testing.T) {
	settings := storage.DefaultSettings("shop-a")
	settings.AllowAddToCart = true

	got := functionNames(FunctionCatalog(settings))
	want := []string{"get_product", "get_related", "get_policy", "add_to_cart", "find_size"}
	if len(got) != len(want) {
		t.Fatalf("functions = %v, want %v", got, want)
	}
	if got[3] != "add_to_cart" {
		t.Errorf("add_to_cart should precede find_size: %v", got)
	}
}

func TestFunctionCatalog_RestrictToQA(t *testing.T) {
	settings := storage.DefaultSettings("shop-a")
	settings.RestrictToQA = true
	settings.AllowAddToCart = true

	if fns := FunctionCatalog(settings); len(fns) != 0 {
		t.Errorf("Q&A-restricted shop exposed functions: %v", functionNames(fns))
	}
}

func TestRestrictToQA_NeverCallsFunctions(t *testing.T) {
	provider := &fakeProvider{completion: llm.Completion{Content: "answer"}}
	h := newHarness(t, provider)

	settings, _ := h.store.GetSettings("shop-a")
	settings.RestrictToQA = true
	if err := h.store.UpdateSettings(settings); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	if _, err := h.orch.Handle(context.Background(), "shop-a", Request{Message: "hi"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(provider.opts[0].Functions) != 0 {
		t.Errorf("functions sent to provider: %v", functionNames(provider.opts[0].Functions))
	}
}

func TestRestrictToQA_ProposedCallNotExecuted(t *testing.T) {
	// Even when the provider proposes a call despite being offered no
	// functions, a Q&A-restricted shop must never emit an action.
	provider := &fakeProvider{completion: llm.Completion{
		Content:      "Here is our returns policy.",
		FunctionCall: &llm.FunctionCall{Name: "get_policy", Arguments: `{"slug":"returns"}`},
	}}
	h := newHarness(t, provider)
	h.catalog.policies = []catalog.Policy{
		{Type: "returns", Title: "Returns", Content: "30 days", Handle: "returns"},
	}

	settings, _ := h.store.GetSettings("shop-a")
	settings.RestrictToQA = true
	if err := h.store.UpdateSettings(settings); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	resp, err := h.orch.Handle(context.Background(), "shop-a", Request{Message: "Returns?"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Actions != nil {
		t.Errorf("Actions = %+v, want nil on a Q&A-restricted shop", resp.Actions)
	}
}

func TestDispatch_GetProductByID(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	h.catalog.products["p1"] = &catalog.Product{
		ID: "p1", Title: "Trail Runner", Handle: "trail-runner",
		Images:   []catalog.Image{{URL: "https://cdn/x.jpg", AltText: "shoe"}},
		Variants: []catalog.Variant{{ID: "v1", Title: "42", Price: "99.00", AvailableForSale: true}},
	}

	settings := storage.DefaultSettings("shop-a")
	action, err := h.orch.dispatch(context.Background(), "shop-a", settings,
		llm.FunctionCall{Name: "get_product", Arguments: `{"productId":"p1"}`})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if action == nil || action.Type != ActionProductInfo {
		t.Fatalf("action = %+v", action)
	}
	if action.Product.Title != "Trail Runner" || len(action.Product.Variants) != 1 {
		t.Errorf("product = %+v", action.Product)
	}
}

func TestDispatch_GetProductByQuery(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	h.catalog.products["p1"] = &catalog.Product{ID: "p1", Title: "Trail Runner"}

	action, err := h.orch.dispatch(context.Background(), "shop-a", storage.DefaultSettings("shop-a"),
		llm.FunctionCall{Name: "get_product", Arguments: `{"query":"trail"}`})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if action == nil || action.Product.ID != "p1" {
		t.Errorf("action = %+v", action)
	}
}

func TestDispatch_GetProductMissingIsNoAction(t *testing.T) {
	h := newHarness(t, &fakeProvider{})

	action, err := h.orch.dispatch(context.Background(), "shop-a", storage.DefaultSettings("shop-a"),
		llm.FunctionCall{Name: "get_product", Arguments: `{"productId":"nope"}`})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if action != nil {
		t.Errorf("action = %+v, want nil", action)
	}
}

func TestDispatch_GetRelated(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	h.orch.embeddings = &fakeEmbeddings{records: map[string]embedding.Record{
		"p1": {Fields: embedding.Fields{Features: []string{"waterproof"}, UseCases: []string{"hiking"}}},
	}}
	h.orch.related = &fakeRelated{suggestions: []seo.Suggestion{
		{Category: "Hiking Socks", Reason: "Worn together", OverlapScore: 0.8},
	}}

	action, err := h.orch.dispatch(context.Background(), "shop-a", storage.DefaultSettings("shop-a"),
		llm.FunctionCall{Name: "get_related", Arguments: `{"productId":"p1"}`})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if action == nil || action.Type != ActionRelatedProducts {
		t.Fatalf("action = %+v", action)
	}
	if len(action.Suggestions) != 1 || action.Suggestions[0].Category != "Hiking Socks" {
		t.Errorf("suggestions = %+v", action.Suggestions)
	}
}

func TestDispatch_GetRelatedUnindexedProduct(t *testing.T) {
	h := newHarness(t, &fakeProvider{})

	action, err := h.orch.dispatch(context.Background(), "shop-a", storage.DefaultSettings("shop-a"),
		llm.FunctionCall{Name: "get_related", Arguments: `{"productId":"nope"}`})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if action != nil {
		t.Errorf("action = %+v, want nil", action)
	}
}

func TestDispatch_AddToCartIgnoredWhenDisabled(t *testing.T) {
	h := newHarness(t, &fakeProvider{})

	// Settings changed between catalog construction and the call; the
	// dispatch gate still refuses.
	action, err := h.orch.dispatch(context.Background(), "shop-a", storage.DefaultSettings("shop-a"),
		llm.FunctionCall{Name: "add_to_cart", Arguments: `{"variantId":"v1","quantity":2}`})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if action != nil {
		t.Errorf("action = %+v, want nil", action)
	}
}

func TestDispatch_AddToCart(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	settings := storage.DefaultSettings("shop-a")
	settings.AllowAddToCart = true

	action, err := h.orch.dispatch(context.Background(), "shop-a", settings,
		llm.FunctionCall{Name: "add_to_cart", Arguments: `{"variantId":"v1","quantity":2}`})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if action == nil || action.Type != ActionAddToCart || action.VariantID != "v1" || action.Quantity != 2 {
		t.Errorf("action = %+v", action)
	}
}

func TestDispatch_FindSize(t *testing.T) {
	h := newHarness(t, &fakeProvider{})

	action, err := h.orch.dispatch(context.Background(), "shop-a", storage.DefaultSettings("shop-a"),
		llm.FunctionCall{Name: "find_size", Arguments: `{"productId":"p1","bodyMeasurements":{"chest":96,"waist":81}}`})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if action == nil || action.Type != ActionSizeRecommendation {
		t.Fatalf("action = %+v", action)
	}
	if action.Measurements["chest"] != 96 {
		t.Errorf("measurements = %v", action.Measurements)
	}
	if action.Recommendation == "" {
		t.Error("missing recommendation text")
	}
}

func TestDispatch_UnknownFunction(t *testing.T) {
	h := newHarness(t, &fakeProvider{})

	action, err := h.orch.dispatch(context.Background(), "shop-a", storage.DefaultSettings("shop-a"),
		llm.FunctionCall{Name: "delete_everything", Arguments: `{}`})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if action != nil {
		t.Errorf("action = %+v, want nil", action)
	}
}

func TestDispatch_MalformedArguments(t *testing.T) {
	h := newHarness(t, &fakeProvider{})

	_, err := h.orch.dispatch(context.Background(), "shop-a", storage.DefaultSettings("shop-a"),
		llm.FunctionCall{Name: "get_policy", Arguments: `{"slug":`})
	if err == nil {
		t.Fatal("expected error for malformed arguments")
	}
}
