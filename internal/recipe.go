package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Recipe is the workflow a cook session walks through.
type Recipe struct {
	ID          string       `json:"id" yaml:"id"`
	Title       string       `json:"title" yaml:"title"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Servings    string       `json:"servings,omitempty" yaml:"servings,omitempty"`
	Difficulty  string       `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
	Ingredients []Ingredient `json:"ingredients" yaml:"ingredients"`
	Steps       []RecipeStep `json:"steps" yaml:"steps"`
}

// Ingredient is one line of the ingredient list.
type Ingredient struct {
	Item     string `json:"item" yaml:"item"`
	Quantity string `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	Unit     string `json:"unit,omitempty" yaml:"unit,omitempty"`
	Notes    string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// RecipeStep is one instruction.
type RecipeStep struct {
	Number          int    `json:"step_number" yaml:"step_number"`
	Instruction     string `json:"instruction" yaml:"instruction"`
	DurationMinutes *int   `json:"duration_minutes,omitempty" yaml:"duration_minutes,omitempty"`
	Tip             string `json:"tip,omitempty" yaml:"tip,omitempty"`
}

// RecipeSource resolves a recipe by id.
type RecipeSource interface {
	Recipe(ctx context.Context, id string) (*Recipe, error)
}

// RecipeClient fetches recipes over HTTP and remembers them for the process lifetime.
type RecipeClient struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]*Recipe
}

// NewRecipeClient creates a client for baseURL. A nil httpClient uses the default one.
func NewRecipeClient(baseURL string, httpClient *http.Client) *RecipeClient {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &RecipeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		cache:      make(map[string]*Recipe),
	}
}

// Remember seeds the in-memory cache, as when a recipe list was already loaded.
func (c *RecipeClient) Remember(r *Recipe) {
	if r == nil || r.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[r.ID] = r
}

// Recipe returns the cached recipe or fetches GET /recipes/{id}.
func (c *RecipeClient) Recipe(ctx context.Context, id string) (*Recipe, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &RecipeError{RecipeID: id, Err: fmt.Errorf("recipe id must not be empty")}
	}

	c.mu.Lock()
	if r, ok := c.cache[id]; ok {
		c.mu.Unlock()
		LogDebug("Recipe %s served from memory", id)
		return r, nil
	}
	c.mu.Unlock()

	endpoint := c.baseURL + "/recipes/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &RecipeError{RecipeID: id, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RecipeError{RecipeID: id, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &RecipeError{RecipeID: id, Err: err}
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, &RecipeError{RecipeID: id, Err: fmt.Errorf("recipe not found")}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RecipeError{RecipeID: id, Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, apiErrorMessage(body))}
	}

	var recipe Recipe
	if err := json.Unmarshal(body, &recipe); err != nil {
		return nil, &RecipeError{RecipeID: id, Err: fmt.Errorf("failed to decode recipe: %w", err)}
	}
	if recipe.ID == "" {
		recipe.ID = id
	}

	c.Remember(&recipe)
	return &recipe, nil
}

// Health calls GET /health and returns the reported service name.
func (c *RecipeClient) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, apiErrorMessage(body))
	}
	var status struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return "", fmt.Errorf("failed to decode health response: %w", err)
	}
	if status.Status != "ok" {
		return status.Service, fmt.Errorf("service reported status %q", status.Status)
	}
	return status.Service, nil
}
