package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kidsclubplans/kcp/internal/signal"
	"github.com/kidsclubplans/kcp/internal/store"
	"github.com/kidsclubplans/kcp/internal/weather"
)

var (
	weatherDate string
	weatherJSON bool
)

var weatherCmd = &cobra.Command{
	Use:   "weather [location]",
	Short: "Check weather and outdoor suitability for a day",
	Long: `Check the weather for a location and date.

Without an API key, seasonal mock data is returned.

Examples:
  kcp weather
  kcp weather "Ann Arbor, MI" --date 2026-06-01
  kcp weather --json Detroit`,
	Args: cobra.ArbitraryArgs,
	RunE: runWeather,
}

func init() {
	weatherCmd.Flags().StringVar(&weatherDate, "date", "", "Date in YYYY-MM-DD form (default today)")
	weatherCmd.Flags().BoolVar(&weatherJSON, "json", false, "Print the raw snapshot as JSON")
	rootCmd.AddCommand(weatherCmd)
}

func runWeather(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	location := strings.TrimSpace(strings.Join(args, " "))
	if location == "" {
		location = weather.DefaultLocation
	}
	date := weatherDate
	if date == "" {
		date = time.Now().Format(time.DateOnly)
	}

	st, err := store.NewStore(store.Config{Path: cfg.Database.Path})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	snap, err := weather.NewClient(cfg.Weather, st).Check(ctx, location, date)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if weatherJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	fmt.Fprintf(out, "%s on %s: %s", snap.Location, snap.Date, snap.Description)
	if snap.TemperatureF != nil {
		fmt.Fprintf(out, ", %.0f°F", *snap.TemperatureF)
	}
	fmt.Fprintf(out, ", %d%% chance of precipitation\n", snap.PrecipitationChance)
	if snap.OutdoorSuitable {
		fmt.Fprintln(out, "Good day for outdoor activities.")
	} else {
		fmt.Fprintln(out, "Plan indoor activities.")
	}
	return nil
}
