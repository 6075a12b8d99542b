package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/bryanchriswhite/SilentShot/internal/capture"
	"github.com/bryanchriswhite/SilentShot/internal/window"
	"github.com/spf13/cobra"
)

var windowCmd = &cobra.Command{
	Use:   "window",
	Short: "Show the active window and the crop a windowed capture would use",
	Long: `Print the focused window's bounds and the region a modifier+trigger
capture would keep after the border inset is applied.`,
	Example: `  # Print once
  silentshot window

  # Follow focus changes until Ctrl+C
  silentshot window --watch`,
	RunE: runWindow,
}

var watchFlag bool

func init() {
	rootCmd.AddCommand(windowCmd)
	windowCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "keep printing as focus changes")
}

func runWindow(cmd *cobra.Command, args []string) error {
	mgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := mgr.Get()

	tracker, err := window.Open("auto")
	if err != nil {
		return fmt.Errorf("failed to open window tracker: %w", err)
	}
	defer tracker.Close()

	frames, err := capture.Open(cfg.Capture.Backend, cfg.Capture.Display)
	if err != nil {
		return fmt.Errorf("failed to open frame source: %w", err)
	}
	width, height := frames.Size()
	frames.Close()
	screen := capture.FullRect(width, height)

	if !watchFlag {
		info, err := tracker.ActiveWindow()
		if err != nil {
			return err
		}
		printWindow(info, screen)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	window.Watch(ctx, tracker, 250*time.Millisecond, func(info *window.Info) {
		printWindow(info, screen)
	})
	return nil
}

func printWindow(info *window.Info, screen capture.CropRect) {
	r := info.Rect
	crop := capture.WindowRegion(r, screen.Width(), screen.Height())

	fmt.Printf("%s (%s) pid=%d id=0x%x\n", info.Title, info.Class, info.PID, info.ID)
	fmt.Printf("  window: left=%d top=%d right=%d bottom=%d\n", r.Left, r.Top, r.Right, r.Bottom)
	if crop.Empty() {
		fmt.Println("  crop:   none (no visible area, capture would be skipped)")
		return
	}
	fmt.Printf("  crop:   left=%d top=%d right=%d bottom=%d (%dx%d)\n",
		crop.Left, crop.Top, crop.Right, crop.Bottom, crop.Width(), crop.Height())
}
