package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Inspect and test notification channels",
}

var channelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enabled channels by priority",
	RunE:  runChannelsList,
}

var channelsTestCmd = &cobra.Command{
	Use:   "test <name>",
	Short: "Run a channel health check",
	Args:  cobra.ExactArgs(1),
	RunE:  runChannelsTest,
}

func init() {
	rootCmd.AddCommand(channelsCmd)
	channelsCmd.AddCommand(channelsListCmd)
	channelsCmd.AddCommand(channelsTestCmd)
}

func runChannelsList(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	disp := initDispatcher(cfg, newLogger(cfg))
	if err := registerChannels(cfg, disp); err != nil {
		return err
	}

	channels := disp.Channels()
	if len(channels) == 0 {
		fmt.Println("No channels enabled.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "NAME\tPRIORITY\n")
	for _, ch := range channels {
		fmt.Fprintf(w, "%s\t%d\n", ch.Name, ch.Priority)
	}
	return w.Flush()
}

func runChannelsTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	disp := initDispatcher(cfg, newLogger(cfg))
	if err := registerChannels(cfg, disp); err != nil {
		return err
	}

	healthy, err := disp.Test(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("test channel %s: %w", args[0], err)
	}

	if healthy {
		fmt.Printf("Channel %s: healthy\n", args[0])
		return nil
	}
	fmt.Printf("Channel %s: unhealthy\n", args[0])
	return fmt.Errorf("channel %s failed its health check", args[0])
}
