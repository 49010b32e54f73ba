package commands

import (
	"context"
	"fmt"

	"github.com/bryanchriswhite/screenshare/internal/capability"
	"github.com/spf13/cobra"
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Show what the selected backend can capture",
	Long: `Probe the selected backend and report its capability level:

  none          capture is not possible
  screen        displays can be captured
  screen+audio  displays and system audio can be captured`,
	RunE: runCapabilities,
}

func init() {
	rootCmd.AddCommand(capabilitiesCmd)
}

func runCapabilities(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	platform, err := newPlatform(configMgr, true)
	if err != nil {
		return err
	}
	defer platform.Close()

	level, err := platform.Capability(context.Background())
	if err != nil {
		return fmt.Errorf("failed to probe %s backend: %w", platform.Name(), err)
	}

	fmt.Printf("Backend:       %s\n", platform.Name())
	fmt.Printf("Level:         %s\n", level)
	fmt.Printf("Screen:        %s\n", yesNo(level.Supports(capability.LevelScreenCapture)))
	fmt.Printf("Audio:         %s\n", yesNo(level.Supports(capability.LevelAudioCapture)))
	return nil
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
