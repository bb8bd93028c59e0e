package spoonacular

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key", nil)
}

func TestSearchByIngredients(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recipes/findByIngredients" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("apiKey") != "test-key" {
			t.Errorf("apiKey = %q", q.Get("apiKey"))
		}
		if q.Get("ingredients") != "chicken,rice" {
			t.Errorf("ingredients = %q", q.Get("ingredients"))
		}
		if q.Get("ranking") != "2" {
			t.Errorf("ranking = %q", q.Get("ranking"))
		}
		if q.Get("ignorePantry") != "false" {
			t.Errorf("ignorePantry = %q", q.Get("ignorePantry"))
		}

		w.Write([]byte(`[
			{"id": 100, "title": "Chicken Soup", "image": "soup.jpg",
			 "usedIngredients": [{"name": "chicken"}],
			 "missedIngredients": [{"name": "celery"}, {"name": "carrot"}]},
			{"id": 200, "title": "Chicken Rice", "image": "rice.jpg",
			 "usedIngredients": [{"name": "chicken"}, {"name": "rice"}],
			 "missedIngredients": [{"name": "soy sauce"}]}
		]`))
	}))

	got, err := c.SearchByIngredients(context.Background(), "chicken,rice", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}

	// Sorted by match percentage: Chicken Rice (66.7%) before Chicken Soup (33.3%)
	if got[0].Title != "Chicken Rice" {
		t.Errorf("first = %q, want Chicken Rice", got[0].Title)
	}
	if got[0].MatchPercentage != 66.7 {
		t.Errorf("match = %v, want 66.7", got[0].MatchPercentage)
	}
	if got[0].UsedIngredients != 2 {
		t.Errorf("used = %d, want 2", got[0].UsedIngredients)
	}
	if len(got[0].MissedIngredients) != 1 || got[0].MissedIngredients[0] != "soy sauce" {
		t.Errorf("missed = %v", got[0].MissedIngredients)
	}
	if got[1].MatchPercentage != 33.3 {
		t.Errorf("second match = %v, want 33.3", got[1].MatchPercentage)
	}
}

func TestSearchByIngredientsNoKey(t *testing.T) {
	c := NewClient("", "", nil)
	_, err := c.SearchByIngredients(context.Background(), "chicken", 5)
	if err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestSearchByIngredientsEmptyResult(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))

	got, err := c.SearchByIngredients(context.Background(), "unobtanium", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no candidates, got %d", len(got))
	}
}

func TestGetRecipe(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recipes/200/information" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("includeNutrition") != "false" {
			t.Errorf("includeNutrition = %q", r.URL.Query().Get("includeNutrition"))
		}

		w.Write([]byte(`{
			"title": "Chicken Rice",
			"image": "rice.jpg",
			"servings": 4,
			"readyInMinutes": 35,
			"sourceUrl": "https://example.com/chicken-rice",
			"extendedIngredients": [
				{"original": "2 chicken breasts"},
				{"original": "1 cup rice"}
			],
			"analyzedInstructions": [
				{"steps": [
					{"number": 1, "step": "Cook the rice."},
					{"number": 2, "step": "Sear the chicken."}
				]}
			]
		}`))
	}))

	got, err := c.GetRecipe(context.Background(), 200)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Chicken Rice" {
		t.Errorf("title = %q", got.Title)
	}
	if got.Servings != 4 || got.ReadyInMinutes != 35 {
		t.Errorf("servings/time = %d/%d", got.Servings, got.ReadyInMinutes)
	}
	if len(got.Ingredients) != 2 || got.Ingredients[0] != "2 chicken breasts" {
		t.Errorf("ingredients = %v", got.Ingredients)
	}
	if len(got.Instructions) != 2 || got.Instructions[0] != "1. Cook the rice." {
		t.Errorf("instructions = %v", got.Instructions)
	}
}

func TestGetRecipeFallbackInstructions(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"title": "Toast",
			"instructions": "Toast the bread.",
			"analyzedInstructions": []
		}`))
	}))

	got, err := c.GetRecipe(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Instructions) != 1 || got.Instructions[0] != "Toast the bread." {
		t.Errorf("instructions = %v", got.Instructions)
	}
}

func TestGetRecipeAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"message": "quota exceeded"}`))
	}))

	_, err := c.GetRecipe(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error for 402 response")
	}
}
