package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shortstudio/studio-agent/internal/export"
	"github.com/shortstudio/studio-agent/internal/monitor"
	"github.com/shortstudio/studio-agent/internal/ui"
)

func readScript(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(b), nil
}

func newAnalyzeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <script-file>",
		Short: "Analyze a script and print its storyboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := readScript(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.session.Analyze(cmd.Context(), script); err != nil {
				return err
			}
			st := a.session.State()
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"storyboard": st.Storyboard,
				"selections": st.Selections,
				"segments":   st.Segments,
				"audio_url":  st.AudioURL,
			})
		},
	}
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Query the job service once for render progress",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			jobID := ""
			if len(args) == 1 {
				jobID = args[0]
			}
			status, err := a.remote.ExportStatus(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

func newBatchCmd(flags *rootFlags) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "batch <csv-file>",
		Short: "Submit a CSV of scripts as one batch job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open batch file: %w", err)
			}
			defer f.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if follow {
				a.session.OnProgress(func(s monitor.Snapshot) {
					fmt.Fprintf(out, "%s  %s\n", ui.ProgressTitle(s), s.Status.Label)
				})
			}

			resp, err := a.session.Batch(ctx, filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "batch accepted: %d rows\n", resp.Rows)
			if !follow {
				return nil
			}

			snap, err := a.session.Wait(ctx)
			if err != nil {
				a.session.Cancel()
				return fmt.Errorf("stopped following batch: %w", err)
			}
			if snap.State == monitor.StateFailed {
				return fmt.Errorf("batch failed: %s", snap.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&follow, "follow", false, "Follow progress until the batch finishes")
	return cmd
}

func newTimelineCmd(flags *rootFlags) *cobra.Command {
	var req export.TimelineRequest

	cmd := &cobra.Command{
		Use:   "timeline <script-file>",
		Short: "Analyze a script and write an EDL and SRT for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := readScript(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.session.Analyze(ctx, script); err != nil {
				return err
			}
			res, err := a.session.Timeline(req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().Float64Var(&req.Duration, "duration", 0, "Narration length in seconds")
	cmd.Flags().StringVar(&req.OutputDir, "out", "", "Output directory (defaults to the configured output path)")
	cmd.Flags().StringVar(&req.ProjectName, "name", "", "Project name for the EDL title and file names")
	cmd.Flags().Float64Var(&req.FrameRate, "fps", export.DefaultFrameRate, "Timeline frame rate")
	cmd.MarkFlagRequired("duration")
	return cmd
}
