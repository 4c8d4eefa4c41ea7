package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/voiceify/voiceify/pkg/client"
	"github.com/voiceify/voiceify/pkg/tracker"
	"github.com/voiceify/voiceify/pkg/types"
)

const textOutputName = "voiceify-audio.mp3"

type convertOptions struct {
	text         string
	voice        string
	outDir       string
	pollInterval time.Duration
}

// conversion is one input being converted
type conversion struct {
	name   string
	output string
	sub    types.Submission
	job    types.JobHandle
	err    error
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	opts := convertOptions{}

	cmd := &cobra.Command{
		Use:   "convert [file.pdf ...]",
		Short: "Convert PDFs or text to MP3 audio",
		Long: "Submits every PDF (and --text, if given) to the gateway, follows all jobs\n" +
			"concurrently and writes one MP3 per input into --out.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && strings.TrimSpace(opts.text) == "" {
				return errors.New("nothing to convert: pass PDF files or --text")
			}
			return runConvert(cmd.Context(), ctx.client(), args, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.text, "text", "", "Text to convert instead of (or in addition to) files")
	cmd.Flags().StringVar(&opts.voice, "voice", "", "Voice name (default: gateway default)")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", ".", "Directory for the MP3 files")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", time.Second, "Status poll interval if the live stream drops")

	return cmd
}

func runConvert(ctx context.Context, c *client.Client, files []string, opts convertOptions, stdout, stderr io.Writer) error {
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var convs []*conversion
	for _, path := range files {
		doc, err := os.ReadFile(path)
		base := filepath.Base(path)
		convs = append(convs, &conversion{
			name:   base,
			output: filepath.Join(opts.outDir, strings.TrimSuffix(base, filepath.Ext(base))+".mp3"),
			sub:    types.Submission{FileName: base, Document: doc, Voice: opts.voice},
			err:    err,
		})
	}
	if strings.TrimSpace(opts.text) != "" {
		convs = append(convs, &conversion{
			name:   "text",
			output: filepath.Join(opts.outDir, textOutputName),
			sub:    types.Submission{Text: opts.text, Voice: opts.voice},
		})
	}

	for _, cv := range convs {
		if cv.err != nil {
			continue
		}
		cv.job, cv.err = c.Submit(ctx, cv.sub)
		if cv.err == nil {
			slog.Info("Submitted", "input", cv.name, "job", cv.job)
		}
	}

	names := make([]string, len(convs))
	for i, cv := range convs {
		names[i] = cv.name
	}
	display := newProgressDisplay(stderr, names)

	var (
		wg    sync.WaitGroup
		outMu sync.Mutex
	)
	report := func(format string, args ...any) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(stdout, format+"\n", args...)
	}

	for i, cv := range convs {
		if cv.err != nil {
			display.Update(i, types.StatusEvent{Status: types.StatusError})
			continue
		}

		tr := tracker.New(cv.job, c, tracker.Hooks{
			OnProgress: func(ev types.StatusEvent) { display.Update(i, ev) },
			OnDone: func(artifact *types.Artifact, meta types.ArtifactMetadata) {
				if artifact == nil {
					cv.err = errors.New("job finished but its audio could not be downloaded")
					return
				}
				if err := os.WriteFile(cv.output, artifact.Data, 0o644); err != nil {
					cv.err = fmt.Errorf("failed to write %s: %w", cv.output, err)
					return
				}
				if meta.Truncated {
					report("warning: %s was too long; only the beginning was converted", cv.name)
				}
			},
			OnError: func(reason string) {
				cv.err = errors.New(reason)
				display.Update(i, types.StatusEvent{Status: types.StatusError, Message: reason})
			},
		}, tracker.WithPollInterval(opts.pollInterval), tracker.WithLogger(slog.Default()))

		if err := tr.Start(ctx); err != nil {
			cv.err = err
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-tr.Done()
		}()
	}

	wg.Wait()
	display.Finish()

	if err := ctx.Err(); err != nil {
		report("interrupted")
		return err
	}

	failed := 0
	for _, cv := range convs {
		if cv.err != nil {
			failed++
			report("%s: failed: %v", cv.name, cv.err)
			continue
		}
		report("%s -> %s", cv.name, cv.output)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d conversions failed", failed, len(convs))
	}
	return nil
}
