package cli

import (
	"fmt"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mailsplit/mailsplit/internal/engine"
	"github.com/mailsplit/mailsplit/internal/server"
	"github.com/mailsplit/mailsplit/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the experiment engine server",
	Long: `Start the HTTP server: the /events beacon for the sending pipeline and
the token-protected management API.`,
	RunE: runServe,
}

var servePort int

func init() {
	defaultPort := 8080
	if p, err := strconv.Atoi(getEnvOrDefault("MAILSPLIT_PORT", "")); err == nil {
		defaultPort = p
	}
	serveCmd.Flags().IntVarP(&servePort, "port", "p", defaultPort, "port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Optional .env for local setups; absence is fine.
	_ = godotenv.Load()

	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	log := newLogger()
	eng := engine.New(s, engine.WithLogger(log))
	defer eng.Close()

	srv := server.New(s, eng, log, servePort)
	fmt.Printf("mailsplit running on http://localhost:%d\n", servePort)
	fmt.Printf("Management API token: %s\n", srv.Token())
	fmt.Println("Press Ctrl+C to stop")

	return srv.Start()
}
