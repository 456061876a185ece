package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/piwi3910/strata/pkg/config"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine as a long-lived process",
		Long: `Initialize the configured database eagerly, expose the metrics endpoint,
and keep running until interrupted. While running, edits to the config file
adjust the log level without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx := rt.tel.WithContext(cmd.Context())
			log := rt.tel.Logger.NewComponentLogger("serve")

			if err := rt.svc.Initialize(ctx); err != nil {
				return err
			}
			st, err := rt.svc.Status(ctx)
			if err != nil {
				return err
			}
			log.WithDatabase(st.Database).WithBackend(st.Backend).
				Infof("serving at schema v%d", st.CurrentVersion)

			if rt.tel.Config.Metrics.Enabled {
				if err := rt.tel.StartMetricsServer(); err != nil {
					return fmt.Errorf("start metrics server: %w", err)
				}
				log.WithField("address", rt.tel.Config.Metrics.ListenAddress).Info("metrics endpoint up")
			}

			// Live-reload the log level on config edits.
			watchPath := configPath
			if watchPath == "" {
				watchPath = defaultConfigFile
			}
			if _, err := os.Stat(watchPath); err == nil {
				err := config.Watch(ctx, watchPath, log, func(next *config.Config) {
					if level := next.Telemetry.Logging.Level; level != "" {
						rt.tel.Logger.SetLevel(level)
						log.WithField("level", level).Info("log level updated")
					}
				})
				if err != nil {
					log.WithError(err).Warn("config watching unavailable")
				}
			}

			<-ctx.Done()
			log.Info("shutting down")
			return nil
		},
	}
}
