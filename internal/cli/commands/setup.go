// Package commands implements the LeapChat CLI subcommands.
package commands

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapchat/internal/chat"
	"github.com/leapstack-labs/leapchat/internal/config"
	"github.com/leapstack-labs/leapchat/internal/executor"
	"github.com/leapstack-labs/leapchat/internal/services"
	"github.com/leapstack-labs/leapchat/internal/store"
)

// getConfig retrieves the loaded config from the command context.
func getConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}

// appDeps bundles the wiring every conversation-driving command shares.
type appDeps struct {
	Store   *store.Store
	Manager *chat.Manager
	Sources *services.DatasourceClient
	Close   func()
}

// buildDeps opens the conversation store and connects the backend clients.
// onChange receives the session id after any session mutates and may be nil.
func buildDeps(cmd *cobra.Command, onChange func(sessionID string)) (*appDeps, error) {
	cfg, err := getConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := config.GetLogger(cmd.Context())

	st, err := store.Open(cfg.StorePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	httpc := &http.Client{Timeout: time.Duration(cfg.Backend.Timeout) * time.Second}
	// Generation streams are long-lived; they are bounded by the request
	// context, not a client timeout.
	streamc := &http.Client{}

	sources := services.NewDatasourceClient(cfg.Backend.URL, httpc, logger)

	var exec chat.Executor
	if cfg.Executor.Mode == "local" {
		exec = executor.NewLocal(executor.Target{
			Dialect:  cfg.Executor.Target.Dialect,
			Host:     cfg.Executor.Target.Host,
			Port:     cfg.Executor.Target.Port,
			User:     cfg.Executor.Target.User,
			Password: cfg.Executor.Target.Password,
			Database: cfg.Executor.Target.Database,
			Path:     cfg.Executor.Target.Path,
		}, logger)
	} else {
		exec = services.NewExecutorClient(cfg.Backend.URL, sources, httpc, logger)
	}

	manager := chat.NewManager(chat.ManagerConfig{
		Store: st,
		Deps: chat.Collaborators{
			Generator:  services.NewGeneratorClient(cfg.Backend.URL, streamc, logger),
			Executor:   exec,
			Fixer:      services.NewFixerClient(cfg.Backend.URL, httpc, logger),
			Visualizer: services.NewVisualizerClient(cfg.Backend.URL, httpc, logger),
		},
		Logger:   logger,
		OnChange: onChange,
	})

	return &appDeps{
		Store:   st,
		Manager: manager,
		Sources: sources,
		Close:   func() { _ = st.Close() },
	}, nil
}
