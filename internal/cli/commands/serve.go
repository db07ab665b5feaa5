package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapchat/internal/config"
	"github.com/leapstack-labs/leapchat/internal/ui"
	"github.com/leapstack-labs/leapchat/internal/ui/notifier"
)

// NewServeCommand creates the serve command, which runs the web UI.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the LeapChat web UI",
		Long: `Start the web UI server.

Conversations live in the local store and stream to the browser as the
assistant works. Stop with Ctrl+C.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			logger := config.GetLogger(cmd.Context())

			notify := notifier.New()
			deps, err := buildDeps(cmd, notify.Broadcast)
			if err != nil {
				return err
			}
			defer deps.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			secret := cfg.Server.SessionSecret
			if secret == "" {
				// Ephemeral secret; cookies reset across restarts.
				secret = uuid.NewString()
			}

			srv := ui.NewServer(ui.Config{
				Manager:       deps.Manager,
				Sources:       deps.Sources,
				Notifier:      notify,
				DefaultSource: cfg.DefaultSource,
				Port:          cfg.Server.Port,
				Watch:         cfg.Server.Watch,
				SessionSecret: secret,
				Logger:        logger,
			})
			return srv.Serve(ctx)
		},
	}
}
