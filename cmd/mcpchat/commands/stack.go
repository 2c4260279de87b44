package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/telnet2/mcpchat/internal/config"
	"github.com/telnet2/mcpchat/internal/event"
	"github.com/telnet2/mcpchat/internal/logging"
	"github.com/telnet2/mcpchat/internal/mcp"
)

// stack bundles the wired-up client components shared by the commands.
type stack struct {
	settings   *config.Settings
	bus        *event.Bus
	supervisor *mcp.Supervisor
	dispatcher *mcp.Dispatcher
}

// buildStack loads settings and server definitions and wires the supervisor
// and dispatcher. Nothing is connected yet.
func buildStack() (*stack, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}

	servers, err := config.LoadServers(settings.ServersConfigPath)
	if err != nil {
		return nil, err
	}

	bus := event.NewBus()
	sup := mcp.NewSupervisor(servers, mcp.WithBus(bus))
	disp := mcp.NewDispatcher(sup,
		mcp.WithDispatcherBus(bus),
		mcp.WithDefaultTimeout(settings.MCPTimeout),
		mcp.WithRetryPolicy(settings.MCPRetryAttempts, settings.MCPRetryInterval),
	)

	return &stack{
		settings:   settings,
		bus:        bus,
		supervisor: sup,
		dispatcher: disp,
	}, nil
}

// connectAll connects every enabled server and reports failures on stderr
// without aborting; a partially available catalog is still useful.
func (s *stack) connectAll(ctx context.Context) {
	for name, err := range s.supervisor.RefreshAll(ctx) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: server %s: %v\n", name, err)
		}
	}
}

func (s *stack) close() {
	if err := s.supervisor.Close(); err != nil {
		logging.Warn().Err(err).Msg("supervisor shutdown")
	}
	_ = s.bus.Close()
}
