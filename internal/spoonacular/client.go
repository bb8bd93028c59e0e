// Package spoonacular provides a client for the Spoonacular recipe API.
package spoonacular

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pantrybot/pantrybot/internal/httpkit"
)

// DefaultBaseURL is the public Spoonacular API endpoint.
const DefaultBaseURL = "https://api.spoonacular.com"

// Client is a Spoonacular REST API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Spoonacular client. An empty baseURL selects
// the public API endpoint.
func NewClient(baseURL string, apiKey string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10*time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// Candidate is a recipe match from an ingredient search, ranked by how
// much of it can be cooked from what is on hand.
type Candidate struct {
	ID                int      `json:"id"`
	Title             string   `json:"title"`
	Image             string   `json:"image"`
	UsedIngredients   int      `json:"usedIngredients"`
	MatchPercentage   float64  `json:"matchPercentage"`
	MissedIngredients []string `json:"missedIngredients"`
}

// Recipe holds full recipe details including preparation steps.
type Recipe struct {
	Title          string
	Image          string
	Servings       int
	ReadyInMinutes int
	Ingredients    []string
	Instructions   []string
	SourceURL      string
}

type ingredientRef struct {
	Name string `json:"name"`
}

type findByIngredientsResult struct {
	ID                int             `json:"id"`
	Title             string          `json:"title"`
	Image             string          `json:"image"`
	UsedIngredients   []ingredientRef `json:"usedIngredients"`
	MissedIngredients []ingredientRef `json:"missedIngredients"`
}

type recipeInformation struct {
	Title               string `json:"title"`
	Image               string `json:"image"`
	Servings            int    `json:"servings"`
	ReadyInMinutes      int    `json:"readyInMinutes"`
	SourceURL           string `json:"sourceUrl"`
	Instructions        string `json:"instructions"`
	ExtendedIngredients []struct {
		Original string `json:"original"`
	} `json:"extendedIngredients"`
	AnalyzedInstructions []struct {
		Steps []struct {
			Number int    `json:"number"`
			Step   string `json:"step"`
		} `json:"steps"`
	} `json:"analyzedInstructions"`
}

// SearchByIngredients finds recipes that use the given comma-separated
// ingredient list, ranked to maximize use of available ingredients.
// Results are sorted by match percentage, best first.
func (c *Client) SearchByIngredients(ctx context.Context, ingredients string, number int) ([]Candidate, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("spoonacular API key not configured")
	}
	if number <= 0 {
		number = 5
	}

	params := url.Values{}
	params.Set("apiKey", c.apiKey)
	params.Set("ingredients", ingredients)
	params.Set("number", strconv.Itoa(number))
	params.Set("ranking", "2") // maximize used ingredients
	params.Set("ignorePantry", "false")

	var results []findByIngredientsResult
	if err := c.get(ctx, "/recipes/findByIngredients", params, &results); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		used := len(r.UsedIngredients)
		missed := len(r.MissedIngredients)
		total := used + missed

		var pct float64
		if total > 0 {
			pct = float64(used) / float64(total) * 100
		}
		// Round to one decimal to match the UI's display precision.
		pct = float64(int(pct*10+0.5)) / 10

		missedNames := make([]string, 0, missed)
		for _, ing := range r.MissedIngredients {
			missedNames = append(missedNames, ing.Name)
		}

		candidates = append(candidates, Candidate{
			ID:                r.ID,
			Title:             r.Title,
			Image:             r.Image,
			UsedIngredients:   used,
			MatchPercentage:   pct,
			MissedIngredients: missedNames,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].MatchPercentage > candidates[j].MatchPercentage
	})

	return candidates, nil
}

// GetRecipe retrieves full details for a recipe by its Spoonacular ID.
func (c *Client) GetRecipe(ctx context.Context, recipeID int) (*Recipe, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("spoonacular API key not configured")
	}

	params := url.Values{}
	params.Set("apiKey", c.apiKey)
	params.Set("includeNutrition", "false")

	var info recipeInformation
	path := fmt.Sprintf("/recipes/%d/information", recipeID)
	if err := c.get(ctx, path, params, &info); err != nil {
		return nil, err
	}

	ingredients := make([]string, 0, len(info.ExtendedIngredients))
	for _, ing := range info.ExtendedIngredients {
		ingredients = append(ingredients, ing.Original)
	}

	var instructions []string
	if len(info.AnalyzedInstructions) > 0 {
		for _, step := range info.AnalyzedInstructions[0].Steps {
			instructions = append(instructions, fmt.Sprintf("%d. %s", step.Number, step.Step))
		}
	} else if info.Instructions != "" {
		instructions = []string{info.Instructions}
	}

	return &Recipe{
		Title:          info.Title,
		Image:          info.Image,
		Servings:       info.Servings,
		ReadyInMinutes: info.ReadyInMinutes,
		Ingredients:    ingredients,
		Instructions:   instructions,
		SourceURL:      info.SourceURL,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
