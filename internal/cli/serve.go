package cli

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/aide-sh/aide/internal/api"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local status API server",
	Long:  `Expose installation state, features, and the conversation log over HTTP.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap(false)
	if err != nil {
		return err
	}
	defer app.Close()

	host := app.Cfg.API.Host
	port := app.Cfg.API.Port
	if serveHost != "" {
		host = serveHost
	}
	if servePort > 0 {
		port = servePort
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           api.NewServer(app.Store, rootCmd.Version).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	fmt.Fprintf(os.Stderr, "Status API listening on http://%s\n", srv.Addr)
	return srv.ListenAndServe()
}
