package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/bryanchriswhite/SilentShot/internal/convert"
	"github.com/bryanchriswhite/SilentShot/internal/storage"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var convertCmd = &cobra.Command{
	Use:   "convert [DIR]",
	Short: "Convert raw captures to PNG",
	Long: `Convert every raw capture in DIR (default: the destination folder) to PNG
and exit. Raw files are removed after a successful conversion unless
--keep-raw is given.`,
	Example: `  # Convert the destination folder
  silentshot convert

  # Convert another folder and keep the bitmaps
  silentshot convert ~/old-shots --keep-raw`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConvert,
}

var keepRaw bool

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().BoolVar(&keepRaw, "keep-raw", false, "keep raw files after conversion")
}

func runConvert(cmd *cobra.Command, args []string) error {
	mgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := mgr.Get()

	dir := cfg.Output.Destination
	if len(args) == 1 {
		dir = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p := convert.New(storage.NewStore(afero.NewOsFs(), nil), convert.Options{
		Level:       storage.CompressionLevel(cfg.Output.PNGCompression),
		PreserveRaw: func() bool { return keepRaw },
	})
	converted, failed, err := p.ConvertDir(ctx, dir)
	if err != nil {
		return fmt.Errorf("conversion of %s stopped: %w", dir, err)
	}

	fmt.Printf("Converted %d file(s) in %s", converted, dir)
	if failed > 0 {
		fmt.Printf(", %d failed (raw files kept)", failed)
	}
	fmt.Println()
	return nil
}
