package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"

	"redx-pair/internal/config"
	"redx-pair/internal/linker"
	"redx-pair/internal/logging"
	"redx-pair/internal/server"
	"redx-pair/internal/session"
)

const version = "1.0.0"

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "redx-pair",
		Short:        "Link a WhatsApp device and deliver its session id to the owner's chat",
		SilenceUsage: true,
	}
	serve := serveCmd()
	root.AddCommand(serve, inspectCmd())
	// Bare invocation serves, matching how the container starts it.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}

func serveCmd() *cobra.Command {
	var envFile string
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP pairing service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, envFile)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional dotenv file to load before reading the environment")
	cmd.Flags().String("port", "", "HTTP port (overrides PORT)")
	_ = v.BindPFlag("PORT", cmd.Flags().Lookup("port"))
	return cmd
}

func serve(cfg *config.Config) error {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting RED X pair service", zap.String("version", version), zap.String("port", cfg.Port))

	dialer := linker.NewWhatsmeowDialer(logging.Library(logger, cfg.LibLogLevel), cfg.DeviceName)
	opts := linker.Options{
		TempRoot:        cfg.TempRoot,
		Prefix:          cfg.SessionPrefix,
		Title:           cfg.SessionTitle,
		Banner:          cfg.SessionBanner,
		SettleDelay:     cfg.SettleDelay,
		ResponseTimeout: cfg.ResponseTimeout,
		LinkTimeout:     cfg.LinkTimeout,
		MaxSessions:     cfg.MaxSessions,
		PairClientType:  whatsmeow.PairClientChrome,
		PairDisplayName: cfg.PairDisplayName,
		QRSize:          cfg.QRSize,
	}
	if cfg.PrintQR {
		opts.QRTerminal = os.Stdout
	}
	lk := linker.New(dialer, opts, logger.Named("linker"))

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(lk, logger.Named("http"), version)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(":" + cfg.Port)
	}()

	if err := lk.Prepare(); err != nil {
		logger.Error("Temp root unusable, linking stays disabled", zap.String("temp_root", cfg.TempRoot), zap.Error(err))
	} else {
		srv.SetReady(true)
		logger.Info("Pairing service ready", zap.String("temp_root", cfg.TempRoot))
	}

	exitChan := make(chan os.Signal, 1)
	signal.Notify(exitChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-exitChan:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			logger.Error("Server error", zap.Error(err))
			return err
		}
		return nil
	}

	shutdown(logger, srv, lk, cfg.ShutdownTimeout)
	return nil
}

// shutdown aborts live sessions before draining HTTP, so requests still waiting on a
// session get their answer and every workspace is removed. Each stage gets its own timeout.
func shutdown(logger *zap.Logger, srv *server.Server, lk *linker.Linker, timeout time.Duration) {
	srv.SetReady(false)

	closeCtx, cancelClose := context.WithTimeout(context.Background(), timeout)
	defer cancelClose()
	if err := lk.Close(closeCtx); err != nil {
		logger.Warn("Sessions still running at exit", zap.Int("active", lk.Active()), zap.Error(err))
	}

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), timeout)
	defer cancelHTTP()
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
}

func inspectCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "inspect [session-id]",
		Short: "Decode a session id and print which account it belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := session.Decode(prefix, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if creds.Me != nil {
				fmt.Fprintf(out, "Account:         %s\n", creds.Me.ID)
				if creds.Me.Name != "" {
					fmt.Fprintf(out, "Name:            %s\n", creds.Me.Name)
				}
			} else {
				fmt.Fprintln(out, "Account:         (not linked)")
			}
			fmt.Fprintf(out, "Registered:      %v\n", creds.Registered)
			fmt.Fprintf(out, "Registration ID: %d\n", creds.RegistrationID)
			if creds.Platform != "" {
				fmt.Fprintf(out, "Platform:        %s\n", creds.Platform)
			}
			if identity, err := creds.DeviceIdentity(); err != nil {
				return err
			} else if identity != nil {
				fmt.Fprintf(out, "Device identity: %d bytes signed\n", len(identity.GetDetails()))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", session.DefaultPrefix, "session id prefix")
	return cmd
}
