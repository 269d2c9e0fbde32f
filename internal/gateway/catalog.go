package gateway

import (
	"fmt"
	"os"
	"sort"

	"github.com/iksnae/yeschef-session/internal"
	"gopkg.in/yaml.v3"
)

// Catalog is the read-only set of recipes served by the gateway.
type Catalog struct {
	recipes map[string]*internal.Recipe
}

type catalogFile struct {
	Recipes []*internal.Recipe `yaml:"recipes"`
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	c := &Catalog{recipes: make(map[string]*internal.Recipe, len(f.Recipes))}
	for i, r := range f.Recipes {
		if r == nil || r.ID == "" {
			return nil, fmt.Errorf("catalog recipe %d has no id", i)
		}
		if _, dup := c.recipes[r.ID]; dup {
			return nil, fmt.Errorf("duplicate recipe id %q", r.ID)
		}
		for j := range r.Steps {
			if r.Steps[j].Number == 0 {
				r.Steps[j].Number = j + 1
			}
		}
		c.recipes[r.ID] = r
	}
	return c, nil
}

// LoadCatalog reads path, or returns the built-in catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog([]byte(defaultCatalog))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// Get returns the recipe with id.
func (c *Catalog) Get(id string) (*internal.Recipe, bool) {
	r, ok := c.recipes[id]
	return r, ok
}

// IDs returns recipe ids in sorted order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.recipes))
	for id := range c.recipes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

const defaultCatalog = `
recipes:
  - id: 3f9c2a71-shakshuka
    title: Shakshuka
    description: Eggs poached in a spiced tomato and pepper sauce.
    servings: "2"
    difficulty: easy
    ingredients:
      - {item: olive oil, quantity: "2", unit: tbsp}
      - {item: onion, quantity: "1", notes: diced}
      - {item: red bell pepper, quantity: "1", notes: sliced}
      - {item: garlic, quantity: "3", unit: cloves}
      - {item: crushed tomatoes, quantity: "400", unit: g}
      - {item: eggs, quantity: "4"}
    steps:
      - step_number: 1
        instruction: Warm the olive oil in a wide pan over medium heat and soften the onion and pepper.
        duration_minutes: 6
      - step_number: 2
        instruction: Add the garlic, cumin and paprika and cook until fragrant.
        duration_minutes: 1
      - step_number: 3
        instruction: Pour in the tomatoes, season, and simmer until slightly thickened.
        duration_minutes: 10
        tip: Taste for salt before the eggs go in.
      - step_number: 4
        instruction: Make four wells, crack in the eggs, cover and cook until the whites set.
        duration_minutes: 6
      - step_number: 5
        instruction: Scatter herbs over the top and serve straight from the pan.
  - id: 8b1d04ce-pancakes
    title: Buttermilk Pancakes
    servings: "4"
    difficulty: easy
    ingredients:
      - {item: flour, quantity: "250", unit: g}
      - {item: buttermilk, quantity: "400", unit: ml}
      - {item: egg, quantity: "1"}
    steps:
      - step_number: 1
        instruction: Whisk the dry ingredients together in a large bowl.
      - step_number: 2
        instruction: Whisk the buttermilk, egg and melted butter, then fold into the dry mix.
        tip: Leave a few lumps; overmixing makes them tough.
      - step_number: 3
        instruction: Cook ladlefuls on a buttered griddle until bubbles form, then flip.
        duration_minutes: 3
`
