package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/bryanchriswhite/screenshare/internal/app"
	"github.com/bryanchriswhite/screenshare/internal/capture"
	"github.com/spf13/cobra"
)

var displaysCmd = &cobra.Command{
	Use:   "displays",
	Short: "List capturable displays",
	Long: `List the displays the selected backend allows capturing, in the order
they are reported. The first entry is the one a capture run selects.`,
	Example: `  # List displays in table format (default)
  screenshare displays

  # List displays in JSON format
  screenshare displays --format json`,
	RunE: runDisplays,
}

var displaysFormat string

func init() {
	rootCmd.AddCommand(displaysCmd)

	displaysCmd.Flags().StringVarP(&displaysFormat, "format", "f", "table", "output format (table or json)")
}

func runDisplays(cmd *cobra.Command, args []string) error {
	if displaysFormat != "table" && displaysFormat != "json" {
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", displaysFormat)
	}

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	platform, err := newPlatform(configMgr, false)
	if err != nil {
		return err
	}
	defer platform.Close()

	ctx := context.Background()
	if _, err := app.CheckCapability(ctx, platform); err != nil {
		return err
	}
	surfaces, err := capture.Discover(ctx, platform, cfg.Discovery)
	if err != nil {
		return err
	}

	if displaysFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(surfaces)
	}
	return printSurfacesTable(os.Stdout, surfaces)
}

func printSurfacesTable(out io.Writer, surfaces []capture.Surface) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tNAME\tSIZE\tPOSITION\tSELECTED")
	fmt.Fprintln(w, "--\t----\t----\t--------\t--------")

	for i, s := range surfaces {
		selected := ""
		if i == 0 {
			selected = "*"
		}
		fmt.Fprintf(w, "%d\t%s\t%dx%d\t%d,%d\t%s\n",
			s.ID, s.Name, s.Width(), s.Height(), s.Bounds.Min.X, s.Bounds.Min.Y, selected)
	}

	return nil
}
