package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/iksnae/yeschef-session/internal"
	"github.com/iksnae/yeschef-session/internal/gateway"
	"github.com/spf13/cobra"
)

var (
	serveAddr    string
	serveCatalog string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local recipe, token and room gateway",
	Long: `Run a local gateway that serves recipes, issues session tokens and relays
room traffic between the cook session and the assistant.

Endpoints:
  GET  /health
  GET  /recipes/{id}
  POST /live/token
  GET  /rtc          (websocket, access_token query parameter)
  GET  /metrics

Signing keys come from server.api_key / server.api_secret or LIVEKIT_API_KEY /
LIVEKIT_API_SECRET. Without them a throwaway development key is generated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		if serveCatalog != "" {
			cfg.Server.CatalogPath = serveCatalog
		}
		if cfg.Server.APIKey == "" || cfg.Server.APISecret == "" {
			secret, err := randomSecret()
			if err != nil {
				return err
			}
			cfg.Server.APIKey = "dev"
			cfg.Server.APISecret = secret
			internal.PrintWarning("No API key configured, using a throwaway development key")
		}

		catalog, err := gateway.LoadCatalog(cfg.Server.CatalogPath)
		if err != nil {
			return err
		}
		srv, err := gateway.NewServer(cfg.Server, catalog)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		internal.PrintInfo(fmt.Sprintf("Serving %d recipe(s) on %s", len(catalog.IDs()), cfg.Server.Addr))
		return srv.ListenAndServe(ctx)
	},
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, :8080)")
	serveCmd.Flags().StringVar(&serveCatalog, "catalog", "", "Recipe catalog YAML (default built-in)")
}
