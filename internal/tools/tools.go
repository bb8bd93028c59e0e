// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pantrybot/pantrybot/internal/grocy"
	"github.com/pantrybot/pantrybot/internal/llm"
	"github.com/pantrybot/pantrybot/internal/recipes"
	"github.com/pantrybot/pantrybot/internal/spoonacular"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools map[string]*Tool
	order []string

	grocy   *grocy.Client
	spoon   *spoonacular.Client
	recipes *recipes.Store
}

// NewRegistry creates a tool registry wired to the pantry, recipe
// search, and recipe file backends. Any backend may be nil; its tools
// then report that they are not configured.
func NewRegistry(gc *grocy.Client, sc *spoonacular.Client, rs *recipes.Store) *Registry {
	r := &Registry{
		tools:   make(map[string]*Tool),
		grocy:   gc,
		spoon:   sc,
		recipes: rs,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "get_pantry_items",
		Description: "Get condensed list of items currently in pantry from Grocy. Use this to check what ingredients are available.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"category": map[string]any{
					"type":        "string",
					"description": "Filter by category: 'all', 'expiring_soon', 'low_stock', or a product name to search for",
					"default":     "all",
				},
			},
			"required": []string{},
		},
		Handler: r.handleGetPantryItems,
	})

	r.Register(&Tool{
		Name:        "search_recipes_by_ingredients",
		Description: "Search for recipes using available ingredients via Spoonacular API. Returns recipe suggestions instantly.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ingredients": map[string]any{
					"type":        "string",
					"description": "Comma-separated list of ingredients (e.g., 'salmon,lemon,dill')",
				},
				"number": map[string]any{
					"type":        "integer",
					"description": "Number of recipes to return (default 3, max 5)",
					"default":     3,
				},
			},
			"required": []string{"ingredients"},
		},
		Handler: r.handleSearchRecipes,
	})

	r.Register(&Tool{
		Name:        "get_recipe_details",
		Description: "Get full recipe details including ingredients and instructions for a specific recipe by ID",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recipe_id": map[string]any{
					"type":        "integer",
					"description": "The Spoonacular recipe ID from search results",
				},
			},
			"required": []string{"recipe_id"},
		},
		Handler: r.handleGetRecipeDetails,
	})

	r.Register(&Tool{
		Name:        "save_recipe",
		Description: "Save a recipe to the filesystem for later reference",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recipe_name": map[string]any{
					"type":        "string",
					"description": "Name for the recipe file (e.g., 'Salmon Cakes')",
				},
				"recipe_content": map[string]any{
					"type":        "string",
					"description": "Full recipe content including ingredients and instructions",
				},
			},
			"required": []string{"recipe_name", "recipe_content"},
		},
		Handler: r.handleSaveRecipe,
	})

	r.Register(&Tool{
		Name:        "list_recipes",
		Description: "List all saved recipes",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []string{},
		},
		Handler: r.handleListRecipes,
	})

	r.Register(&Tool{
		Name:        "get_recipe",
		Description: "Retrieve a previously saved recipe by name",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recipe_name": map[string]any{
					"type":        "string",
					"description": "Name of the recipe to retrieve",
				},
			},
			"required": []string{"recipe_name"},
		},
		Handler: r.handleGetRecipe,
	})

	r.Register(&Tool{
		Name:        "get_product_info",
		Description: "Get detailed information about a specific product in the pantry",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"product_name": map[string]any{
					"type":        "string",
					"description": "Name of the product to search for",
				},
			},
			"required": []string{"product_name"},
		},
		Handler: r.handleGetProductInfo,
	})

	r.Register(&Tool{
		Name:        "consume_stock",
		Description: "Remove/consume items from pantry inventory in Grocy. Use this when the user says they used ingredients or made a recipe.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"product_name": map[string]any{
					"type":        "string",
					"description": "Name of the product to consume (e.g., 'salmon', 'canned salmon')",
				},
				"amount": map[string]any{
					"type":        "number",
					"description": "Amount to consume/remove from inventory",
				},
				"spoiled": map[string]any{
					"type":        "boolean",
					"description": "Whether the item was spoiled (default: false)",
					"default":     false,
				},
			},
			"required": []string{"product_name", "amount"},
		},
		Handler: r.handleConsumeStock,
	})

	r.Register(&Tool{
		Name:        "add_stock",
		Description: "Add items to pantry inventory in Grocy. Use this when the user says they bought groceries or restocked items.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"product_name": map[string]any{
					"type":        "string",
					"description": "Name of the product to add (e.g., 'salmon', 'canned salmon')",
				},
				"amount": map[string]any{
					"type":        "number",
					"description": "Amount to add to inventory",
				},
				"best_before_date": map[string]any{
					"type":        "string",
					"description": "Best before date in YYYY-MM-DD format (optional)",
				},
				"price": map[string]any{
					"type":        "number",
					"description": "Price paid for the item (optional)",
				},
			},
			"required": []string{"product_name", "amount"},
		},
		Handler: r.handleAddStock,
	})

	r.Register(&Tool{
		Name:        "add_to_shopping_list",
		Description: "Add items to the Grocy shopping list. Use this when the user wants to remember to buy something.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"product_name": map[string]any{
					"type":        "string",
					"description": "Name of the product to add to shopping list",
				},
				"amount": map[string]any{
					"type":        "number",
					"description": "Amount to add to shopping list (default: 1)",
					"default":     1,
				},
			},
			"required": []string{"product_name"},
		},
		Handler: r.handleAddToShoppingList,
	})

	r.Register(&Tool{
		Name:        "get_shopping_list",
		Description: "Get the current shopping list from Grocy",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []string{},
		},
		Handler: r.handleGetShoppingList,
	})
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Descriptors returns tool definitions for the LLM, in registration
// order so the prompt stays stable between requests.
func (r *Registry) Descriptors() []llm.ToolDef {
	result := make([]llm.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return result
}

// Execute runs a tool by name with given arguments. The returned string
// is the JSON tool result handed back to the model.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	return tool.Handler(ctx, args)
}

// Argument extraction helpers. Tool arguments arrive as decoded JSON,
// so numbers are float64.

func stringArg(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func floatArg(args map[string]any, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return fallback
}

func boolArg(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

func marshalResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(data), nil
}

// failure encodes a domain-level failure the model should see and
// recover from, as opposed to a transport error.
func failure(msg string) (string, error) {
	return marshalResult(map[string]any{"success": false, "error": msg})
}

// Tool handlers

func (r *Registry) handleGetPantryItems(ctx context.Context, args map[string]any) (string, error) {
	if r.grocy == nil {
		return "", fmt.Errorf("Grocy not configured")
	}

	category := stringArg(args, "category", "all")

	stock, err := r.grocy.Stock(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch pantry items: %w", err)
	}

	items := make([]map[string]any, 0, len(stock))
	for _, item := range stock {
		amount := float64(item.Amount)
		if amount <= 0 {
			continue
		}

		switch {
		case category == "all":
		case category == "expiring_soon":
			if item.BestBefore != "" {
				exp, err := time.Parse("2006-01-02", item.BestBefore)
				if err == nil && time.Until(exp) > 7*24*time.Hour {
					continue
				}
			}
		case category == "low_stock":
			if amount >= float64(item.Product.MinStockAmount) {
				continue
			}
		default:
			if !strings.Contains(strings.ToLower(item.Product.Name), strings.ToLower(category)) {
				continue
			}
		}

		bestBefore := item.BestBefore
		if bestBefore == "" {
			bestBefore = "N/A"
		}
		items = append(items, map[string]any{
			"name":        item.Product.Name,
			"amount":      amount,
			"best_before": bestBefore,
		})
	}

	return marshalResult(map[string]any{
		"success":        true,
		"total_products": len(items),
		"items":          items,
	})
}

func (r *Registry) handleGetProductInfo(ctx context.Context, args map[string]any) (string, error) {
	if r.grocy == nil {
		return "", fmt.Errorf("Grocy not configured")
	}

	productName := stringArg(args, "product_name", "")
	if productName == "" {
		return "", fmt.Errorf("product_name is required")
	}

	stock, err := r.grocy.Stock(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch product info: %w", err)
	}

	var matches []map[string]any
	for _, item := range stock {
		if strings.Contains(strings.ToLower(item.Product.Name), strings.ToLower(productName)) {
			matches = append(matches, map[string]any{
				"name":             item.Product.Name,
				"amount":           float64(item.Amount),
				"amount_opened":    float64(item.AmountOpened),
				"best_before":      orNA(item.BestBefore),
				"min_stock_amount": float64(item.Product.MinStockAmount),
			})
		}
	}

	if len(matches) == 0 {
		return marshalResult(map[string]any{
			"found":   false,
			"message": fmt.Sprintf("No products found matching '%s'", productName),
		})
	}
	return marshalResult(map[string]any{"found": true, "matches": matches})
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func (r *Registry) handleConsumeStock(ctx context.Context, args map[string]any) (string, error) {
	if r.grocy == nil {
		return "", fmt.Errorf("Grocy not configured")
	}

	productName := stringArg(args, "product_name", "")
	if productName == "" {
		return "", fmt.Errorf("product_name is required")
	}
	amount := floatArg(args, "amount", 0)
	spoiled := boolArg(args, "spoiled", false)

	product, err := r.grocy.FindProduct(ctx, productName)
	if err != nil {
		var nf *grocy.NotFoundError
		var amb *grocy.AmbiguousError
		switch {
		case errors.As(err, &nf):
			return failure(fmt.Sprintf("Product '%s' not found in Grocy", productName))
		case errors.As(err, &amb):
			return failure(amb.Error())
		default:
			return "", err
		}
	}

	if err := r.grocy.Consume(ctx, int(product.ID), amount, spoiled); err != nil {
		return "", fmt.Errorf("consume stock: %w", err)
	}

	return marshalResult(map[string]any{
		"success":      true,
		"message":      fmt.Sprintf("Successfully consumed %g of '%s'", amount, product.Name),
		"product_name": product.Name,
		"amount":       amount,
		"spoiled":      spoiled,
	})
}

func (r *Registry) handleAddStock(ctx context.Context, args map[string]any) (string, error) {
	if r.grocy == nil {
		return "", fmt.Errorf("Grocy not configured")
	}

	productName := stringArg(args, "product_name", "")
	if productName == "" {
		return "", fmt.Errorf("product_name is required")
	}
	amount := floatArg(args, "amount", 0)
	bestBefore := stringArg(args, "best_before_date", "")

	var price *float64
	if p, ok := args["price"].(float64); ok {
		price = &p
	}

	product, err := r.grocy.FindProduct(ctx, productName)
	if err != nil {
		var nf *grocy.NotFoundError
		var amb *grocy.AmbiguousError
		switch {
		case errors.As(err, &nf):
			// Unknown products are registered on the fly so a grocery
			// run never fails on a new item.
			if _, cerr := r.grocy.CreateProduct(ctx, productName); cerr != nil {
				return failure(fmt.Sprintf("Product '%s' not found and could not be created: %v", productName, cerr))
			}
			product, err = r.grocy.FindProduct(ctx, productName)
			if err != nil {
				return failure(fmt.Sprintf("Product '%s' was created but could not be found", productName))
			}
		case errors.As(err, &amb):
			return failure(amb.Error())
		default:
			return "", err
		}
	}

	if err := r.grocy.AddStock(ctx, int(product.ID), amount, bestBefore, price); err != nil {
		return "", fmt.Errorf("add stock: %w", err)
	}

	result := map[string]any{
		"success":      true,
		"message":      fmt.Sprintf("Successfully added %g of '%s' to inventory", amount, product.Name),
		"product_name": product.Name,
		"amount":       amount,
	}
	if bestBefore != "" {
		result["best_before_date"] = bestBefore
	}
	if price != nil {
		result["price"] = *price
	}
	return marshalResult(result)
}

func (r *Registry) handleAddToShoppingList(ctx context.Context, args map[string]any) (string, error) {
	if r.grocy == nil {
		return "", fmt.Errorf("Grocy not configured")
	}

	productName := stringArg(args, "product_name", "")
	if productName == "" {
		return "", fmt.Errorf("product_name is required")
	}
	amount := floatArg(args, "amount", 1)

	product, err := r.grocy.FindProduct(ctx, productName)
	if err != nil {
		var nf *grocy.NotFoundError
		var amb *grocy.AmbiguousError
		switch {
		case errors.As(err, &nf):
			return failure(fmt.Sprintf("Product '%s' not found in Grocy", productName))
		case errors.As(err, &amb):
			return failure(amb.Error())
		default:
			return "", err
		}
	}

	if err := r.grocy.AddToShoppingList(ctx, int(product.ID), amount); err != nil {
		return "", fmt.Errorf("add to shopping list: %w", err)
	}

	return marshalResult(map[string]any{
		"success":      true,
		"message":      fmt.Sprintf("Added %g of '%s' to shopping list", amount, product.Name),
		"product_name": product.Name,
		"amount":       amount,
	})
}

func (r *Registry) handleGetShoppingList(ctx context.Context, args map[string]any) (string, error) {
	if r.grocy == nil {
		return "", fmt.Errorf("Grocy not configured")
	}

	list, err := r.grocy.ShoppingList(ctx)
	if err != nil {
		return "", fmt.Errorf("get shopping list: %w", err)
	}

	items := make([]map[string]any, 0, len(list))
	for _, item := range list {
		items = append(items, map[string]any{
			"product_id": int(item.ProductID),
			"amount":     float64(item.Amount),
			"note":       item.Note,
		})
	}

	return marshalResult(map[string]any{
		"success":     true,
		"total_items": len(items),
		"items":       items,
	})
}

func (r *Registry) handleSearchRecipes(ctx context.Context, args map[string]any) (string, error) {
	if r.spoon == nil {
		return "", fmt.Errorf("Spoonacular not configured")
	}

	ingredients := stringArg(args, "ingredients", "")
	if ingredients == "" {
		return "", fmt.Errorf("ingredients is required")
	}
	number := int(floatArg(args, "number", 3))
	if number > 5 {
		number = 5
	}

	candidates, err := r.spoon.SearchByIngredients(ctx, ingredients, number)
	if err != nil {
		return "", fmt.Errorf("search recipes: %w", err)
	}

	return marshalResult(map[string]any{
		"success":       true,
		"total_recipes": len(candidates),
		"recipes":       candidates,
	})
}

func (r *Registry) handleGetRecipeDetails(ctx context.Context, args map[string]any) (string, error) {
	if r.spoon == nil {
		return "", fmt.Errorf("Spoonacular not configured")
	}

	recipeID := int(floatArg(args, "recipe_id", 0))
	if recipeID == 0 {
		return "", fmt.Errorf("recipe_id is required")
	}

	recipe, err := r.spoon.GetRecipe(ctx, recipeID)
	if err != nil {
		return "", fmt.Errorf("get recipe details: %w", err)
	}

	return marshalResult(map[string]any{
		"success":          true,
		"title":            recipe.Title,
		"image":            recipe.Image,
		"servings":         recipe.Servings,
		"ready_in_minutes": recipe.ReadyInMinutes,
		"ingredients":      recipe.Ingredients,
		"instructions":     recipe.Instructions,
		"source_url":       recipe.SourceURL,
	})
}

func (r *Registry) handleSaveRecipe(ctx context.Context, args map[string]any) (string, error) {
	if r.recipes == nil {
		return "", fmt.Errorf("recipe store not configured")
	}

	name := stringArg(args, "recipe_name", "")
	content := stringArg(args, "recipe_content", "")
	if name == "" || content == "" {
		return "", fmt.Errorf("recipe_name and recipe_content are required")
	}

	path, err := r.recipes.Save(name, content)
	if err != nil {
		return "", fmt.Errorf("save recipe: %w", err)
	}

	return marshalResult(map[string]any{
		"success":     true,
		"message":     "Recipe saved successfully",
		"file_path":   path,
		"recipe_name": name,
	})
}

func (r *Registry) handleListRecipes(ctx context.Context, args map[string]any) (string, error) {
	if r.recipes == nil {
		return "", fmt.Errorf("recipe store not configured")
	}

	entries, err := r.recipes.List()
	if err != nil {
		return "", fmt.Errorf("list recipes: %w", err)
	}

	return marshalResult(map[string]any{
		"success":       true,
		"total_recipes": len(entries),
		"recipes":       entries,
	})
}

func (r *Registry) handleGetRecipe(ctx context.Context, args map[string]any) (string, error) {
	if r.recipes == nil {
		return "", fmt.Errorf("recipe store not configured")
	}

	name := stringArg(args, "recipe_name", "")
	if name == "" {
		return "", fmt.Errorf("recipe_name is required")
	}

	content, err := r.recipes.Get(name)
	if err != nil {
		var nf *recipes.NotFoundError
		if errors.As(err, &nf) {
			return marshalResult(map[string]any{
				"success":           false,
				"error":             fmt.Sprintf("Recipe '%s' not found", name),
				"available_recipes": nf.Available,
			})
		}
		return "", fmt.Errorf("get recipe: %w", err)
	}

	return marshalResult(map[string]any{
		"success":     true,
		"recipe_name": name,
		"content":     content,
	})
}
