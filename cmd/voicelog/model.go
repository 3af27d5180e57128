package voicelog

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sjzar/voicelog/internal/speech/local"
)

var modelName string

func init() {
	modelDownloadCmd.Flags().StringVarP(&modelName, "model", "m", "", "ggml model name (default: speech.local.model)")
	modelCmd.AddCommand(modelDownloadCmd)
	rootCmd.AddCommand(modelCmd)
}

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Manage on-device recognition models",
}

var modelDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the whisper.cpp model used by the on-device fallback",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		c := cfg.Get()
		name := modelName
		if name == "" {
			name = c.Speech.Local.Model
		}
		ctx, cancel := signalContext()
		defer cancel()

		d := local.NewDownloader(filepath.Join(c.DataDir, "models"), c.Speech.Local.ModelURL)
		file, err := d.EnsureModel(ctx, name)
		if err != nil {
			return err
		}
		if file.Existed {
			fmt.Println("model already present:", file.Path)
			return nil
		}
		fmt.Printf("downloaded %s (%.1f MB)\n", file.Path, float64(file.Bytes)/(1024*1024))
		return nil
	},
}
