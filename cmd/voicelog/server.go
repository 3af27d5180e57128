package voicelog

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sjzar/voicelog/internal/voicelog"
	"github.com/sjzar/voicelog/pkg/util"
)

var (
	serverAddr string
	serverOpen bool
)

func init() {
	serverCmd.Flags().StringVarP(&serverAddr, "addr", "a", "", "HTTP listen address")
	serverCmd.Flags().BoolVar(&serverOpen, "open", false, "open the API status page in a browser")
	rootCmd.AddCommand(serverCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the HTTP API, MCP endpoints, retry scheduler and inbox watcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		extra := map[string]any{}
		if serverAddr != "" {
			extra["http_addr"] = serverAddr
		}
		app, err := openApp(voicelog.Options{}, extra)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := signalContext()
		defer cancel()

		url := util.ComposeLANURL(app.Config.Get().HTTPAddr)
		log.Info().Str("url", url).Str("inbox", app.Config.Get().Ingest.InboxDir).Msg("voicelog server ready")
		if serverOpen {
			if err := util.OpenBrowser(url + "/api/v1/status"); err != nil {
				log.Warn().Err(err).Msg("failed to open browser")
			}
		}
		return app.Serve(ctx)
	},
}
