package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kidsclubplans/kcp/internal/rag"
	"github.com/kidsclubplans/kcp/internal/safety"
	"github.com/kidsclubplans/kcp/internal/signal"
	"github.com/kidsclubplans/kcp/internal/store"
	"github.com/kidsclubplans/kcp/internal/ui"
)

var (
	importBatchSize int
	searchType      string
	searchSetting   string
	searchLimit     int
	searchText      bool
)

var activitiesCmd = &cobra.Command{
	Use:   "activities",
	Short: "Manage the activity catalog",
}

var activitiesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import activities from a YAML or JSON catalog file",
	Long: `Import activities from a catalog file and index them for search.

The file holds either a list of activities or a mapping with an
"activities" list. Existing activities with the same id are replaced.

Example:
  kcp activities import catalog.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runActivitiesImport,
}

var activitiesSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the activity catalog",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runActivitiesSearch,
}

func init() {
	activitiesImportCmd.Flags().IntVar(&importBatchSize, "batch-size", 64, "Activities embedded per request")
	activitiesSearchCmd.Flags().StringVar(&searchType, "type", "", "Only return this activity type")
	activitiesSearchCmd.Flags().StringVar(&searchSetting, "setting", "", "Only return indoor or outdoor activities")
	activitiesSearchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "Maximum results")
	activitiesSearchCmd.Flags().BoolVarP(&searchText, "text", "t", false, "Output plain markdown instead of rendered output")
	activitiesCmd.AddCommand(activitiesImportCmd, activitiesSearchCmd)
	rootCmd.AddCommand(activitiesCmd)
}

// catalogFile is the mapping form of an import file.
type catalogFile struct {
	Activities []*store.Activity `json:"activities" yaml:"activities"`
}

// parseCatalog decodes a catalog by extension, accepting both the list and
// the mapping form. Entries without a title are dropped.
func parseCatalog(name string, data []byte) ([]*store.Activity, error) {
	var acts []*store.Activity
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		if err := json.Unmarshal(data, &acts); err != nil {
			var doc catalogFile
			if err2 := json.Unmarshal(data, &doc); err2 != nil {
				return nil, fmt.Errorf("parse %s: %w", name, err)
			}
			acts = doc.Activities
		}
	default:
		if err := yaml.Unmarshal(data, &acts); err != nil {
			var doc catalogFile
			if err2 := yaml.Unmarshal(data, &doc); err2 != nil {
				return nil, fmt.Errorf("parse %s: %w", name, err)
			}
			acts = doc.Activities
		}
	}

	out := acts[:0]
	for _, a := range acts {
		if a == nil {
			continue
		}
		a.Title = safety.SanitizeActivityTitle(a.Title)
		if a.Title == "" {
			continue
		}
		a.Description = safety.SanitizeActivityDescription(a.Description)
		a.Source = store.SourceCatalog
		out = append(out, a)
	}
	return out, nil
}

func runActivitiesImport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	acts, err := parseCatalog(args[0], data)
	if err != nil {
		return err
	}
	if len(acts) == 0 {
		return fmt.Errorf("no activities found in %s", args[0])
	}

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	embedded, err := a.vectors.IndexBatch(ctx, acts, importBatchSize)
	if err != nil {
		return fmt.Errorf("import activities: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d activities (%d embedded)\n", len(acts), embedded)
	if !a.vectors.Semantic() {
		fmt.Fprintln(cmd.ErrOrStderr(), "Embeddings disabled; search will use keyword matching.")
	}
	return nil
}

func runActivitiesSearch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	acts, err := a.vectors.Search(ctx, strings.Join(args, " "), searchLimit, rag.Filters{
		Type:          searchType,
		IndoorOutdoor: searchSetting,
	})
	if err != nil {
		return fmt.Errorf("search activities: %w", err)
	}

	md := rag.FormatForDisplay(acts)
	if searchText || !ui.IsTerminal(os.Stdout) {
		fmt.Fprintln(cmd.OutOrStdout(), md)
		return nil
	}
	rendered, err := ui.RenderMarkdown(md, ui.TerminalWidth(os.Stdout))
	if err != nil {
		rendered = md + "\n"
	}
	fmt.Fprint(cmd.OutOrStdout(), rendered)
	return nil
}
