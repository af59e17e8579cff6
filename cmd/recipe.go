package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hearthware/cookd/internal/models"
	"github.com/hearthware/cookd/internal/output"
)

var recipeCmd = &cobra.Command{
	Use:   "recipe",
	Short: "Manage recipes",
}

var recipeImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import a recipe from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return recipeImportRun(args[0])
	},
}

var recipeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored recipes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return recipeListRun()
	},
}

var recipeShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a recipe's steps and ingredients",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return recipeShowRun(args[0])
	},
}

func init() {
	recipeCmd.AddCommand(recipeImportCmd)
	recipeCmd.AddCommand(recipeListCmd)
	recipeCmd.AddCommand(recipeShowCmd)
	rootCmd.AddCommand(recipeCmd)
}

// recipeFile is the YAML import format.
type recipeFile struct {
	Title       string `yaml:"title"`
	Servings    int    `yaml:"servings"`
	Ingredients []struct {
		Name     string  `yaml:"name"`
		Quantity float64 `yaml:"quantity"`
		Unit     string  `yaml:"unit"`
	} `yaml:"ingredients"`
	Steps []struct {
		Title       string   `yaml:"title"`
		Bullets     []string `yaml:"bullets"`
		DurationSec int      `yaml:"duration_sec"`
	} `yaml:"steps"`
}

func recipeImportRun(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read recipe file: %w", err)
	}

	var rf recipeFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("parse recipe file: %w", err)
	}
	if strings.TrimSpace(rf.Title) == "" {
		return fmt.Errorf("recipe has no title")
	}
	if len(rf.Steps) == 0 {
		return fmt.Errorf("recipe has no steps")
	}

	recipe := &models.Recipe{
		Title:        rf.Title,
		ServingsBase: rf.Servings,
	}
	if recipe.ServingsBase <= 0 {
		recipe.ServingsBase = 1
	}
	for _, ing := range rf.Ingredients {
		recipe.Ingredients = append(recipe.Ingredients, models.Ingredient{
			Name:     ing.Name,
			Quantity: ing.Quantity,
			Unit:     ing.Unit,
		})
	}
	for _, st := range rf.Steps {
		recipe.Steps = append(recipe.Steps, models.RecipeStep{
			Title:       st.Title,
			Bullets:     st.Bullets,
			DurationSec: st.DurationSec,
		})
	}

	if dryRun {
		ui.DryRunMsg("Would import recipe %q (%d steps)", recipe.Title, len(recipe.Steps))
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.CreateRecipe(context.Background(), recipe); err != nil {
		return err
	}

	ui.Success("Imported %q (%s, %d steps, %d ingredients)",
		recipe.Title, recipe.ID, len(recipe.Steps), len(recipe.Ingredients))
	return nil
}

func recipeListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	recipes, err := s.ListRecipes(context.Background())
	if err != nil {
		return err
	}
	if len(recipes) == 0 {
		ui.Info("No recipes stored. Use 'cookd recipe import <file.yaml>' to add one.")
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "Servings", "Steps"})
	for _, r := range recipes {
		table.Append([]string{
			shortID(r.ID),
			output.Cyan(r.Title),
			strconv.Itoa(r.ServingsBase),
			strconv.Itoa(len(r.Steps)),
		})
	}
	table.Render()
	return nil
}

func recipeShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	recipe, err := s.GetRecipe(context.Background(), id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  (serves %d)\n\n", output.Cyan(recipe.Title), recipe.ServingsBase)

	if len(recipe.Ingredients) > 0 {
		fmt.Fprintln(ui.Out, "Ingredients:")
		for _, ing := range recipe.Ingredients {
			fmt.Fprintf(ui.Out, "  - %g %s %s\n", ing.Quantity, ing.Unit, ing.Name)
		}
		fmt.Fprintln(ui.Out)
	}

	for i, step := range recipe.Steps {
		fmt.Fprintf(ui.Out, "%d. %s\n", i+1, step.Title)
		for _, b := range step.Bullets {
			fmt.Fprintf(ui.Out, "   - %s\n", b)
		}
	}
	return nil
}

// shortID trims a ULID for table display.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
