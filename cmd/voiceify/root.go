package main

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/voiceify/voiceify/internal/config"
	"github.com/voiceify/voiceify/pkg/client"
)

const defaultGatewayURL = "http://localhost:8080"

type commandContext struct {
	url      string
	logLevel string
}

func (c *commandContext) client() *client.Client {
	return client.New(c.url, client.WithLogger(slog.Default()))
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "voiceify",
		Short:         "Convert PDFs and text to speech",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Log records and the progress display share stderr.
			stderr := newSyncWriter(cmd.ErrOrStderr())
			cmd.Root().SetErr(stderr)

			logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
				Level: config.ParseLogLevel(ctx.logLevel),
			}))
			slog.SetDefault(logger)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	defaultURL := os.Getenv("VOICEIFY_URL")
	if defaultURL == "" {
		defaultURL = defaultGatewayURL
	}

	rootCmd.PersistentFlags().StringVar(&ctx.url, "url", defaultURL, "Gateway base URL (env VOICEIFY_URL)")
	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "WARN", "Log level: DEBUG, INFO, WARN or ERROR")

	rootCmd.AddCommand(newConvertCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))

	return rootCmd
}

// syncWriter serializes writes from concurrent goroutines
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newSyncWriter(w io.Writer) *syncWriter {
	if sw, ok := w.(*syncWriter); ok {
		return sw
	}
	return &syncWriter{w: w}
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
