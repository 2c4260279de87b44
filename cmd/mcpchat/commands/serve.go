package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telnet2/mcpchat/internal/config"
	"github.com/telnet2/mcpchat/internal/event"
	"github.com/telnet2/mcpchat/internal/logging"
	"github.com/telnet2/mcpchat/internal/server"
)

var (
	servePort int
	serveCORS bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose server and tool state over an HTTP API",
	Long: `Connect to the configured MCP servers and serve their state over HTTP:
server statuses, the tool catalog, the invocation audit trail and a
server-sent events stream of lifecycle events.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().BoolVar(&serveCORS, "cors", true, "Enable CORS")
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := buildStack()
	if err != nil {
		return err
	}
	defer st.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st.connectAll(ctx)

	// Surface edits to the server definitions file on the event stream.
	// Definitions are applied on the next start; watchers see the change
	// immediately.
	if err := config.WatchServers(ctx, st.settings.ServersConfigPath, st.bus); err != nil {
		logging.Warn().Err(err).Msg("config watching disabled")
	}
	go logConfigChanges(ctx, st.bus)

	cfg := server.DefaultConfig()
	cfg.Port = servePort
	cfg.EnableCORS = serveCORS
	srv := server.New(cfg, st.supervisor, st.dispatcher, st.bus)

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Int("port", servePort).Msg("http server listening")
		fmt.Printf("mcpchat API on http://localhost:%d/api\n", servePort)
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func logConfigChanges(ctx context.Context, bus *event.Bus) {
	events, err := bus.Subscribe(ctx, event.ConfigChanged)
	if err != nil {
		return
	}
	for range events {
		logging.Info().Msg("server definitions changed on disk; restart to apply")
	}
}
