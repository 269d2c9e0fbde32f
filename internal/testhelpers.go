package internal

import "time"

// CreateTestRecipe creates a recipe with n numbered steps for testing.
func CreateTestRecipe(id string, n int) *Recipe {
	steps := make([]RecipeStep, n)
	for i := range steps {
		steps[i] = RecipeStep{
			Number:      i + 1,
			Instruction: "Step instruction " + string(rune('A'+i%26)),
		}
	}
	return &Recipe{
		ID:    id,
		Title: "Test Recipe " + id,
		Ingredients: []Ingredient{
			{Item: "salt", Quantity: "1", Unit: "pinch"},
		},
		Steps: steps,
	}
}

// CreateTestReport creates a paused session report for testing.
func CreateTestReport(recipeID string) *SessionReport {
	paused := time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)
	return &SessionReport{
		RecipeID:       recipeID,
		Title:          "Test Recipe " + recipeID,
		Status:         ReportPaused,
		CurrentStep:    3,
		TotalSteps:     5,
		ElapsedSeconds: 754,
		PausedAt:       &paused,
		Events: []SessionEvent{
			{At: paused.Add(-13 * time.Minute), Kind: "started", Step: 1},
			{At: paused.Add(-12 * time.Minute), Kind: "connected", Step: 1},
			{At: paused.Add(-5 * time.Minute), Kind: "step", Step: 2},
			{At: paused, Kind: "paused", Step: 3, Detail: "stepped away"},
		},
	}
}

// CreateTestReportWithEvents creates a report carrying the given events.
func CreateTestReportWithEvents(recipeID string, events []SessionEvent) *SessionReport {
	r := CreateTestReport(recipeID)
	r.Events = events
	return r
}
