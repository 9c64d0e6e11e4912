// Command needle finds the opening and ending segments shared across a set
// of episodic video files.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	needle "github.com/aksiksi/needle"
	"github.com/aksiksi/needle/media"
	"github.com/aksiksi/needle/search"
)

var (
	flagVerbose     bool
	flagRecurse     bool
	flagFFmpegPath  string
	flagFFprobePath string

	flagOpeningPct   float64
	flagEndingPct    float64
	flagNoEndings    bool
	flagHashDuration float64
	flagHashPeriod   float64
	flagForce        bool
	flagNoThreads    bool
	flagNoPersist    bool

	flagThreshold   uint16
	flagMinOpening  uint16
	flagMinEnding   uint16
	flagTimePadding float64
	flagNoAnalyze   bool
	flagUseSkip     bool
	flagWriteSkip   bool
)

func main() {
	root := &cobra.Command{
		Use:     "needle",
		Short:   "Find openings and endings across episodic videos",
		Version: needle.Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagVerbose {
				log.SetLevel(log.DebugLevel)
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVarP(&flagRecurse, "recursive", "r", false, "recurse into directories")
	root.PersistentFlags().StringVar(&flagFFmpegPath, "ffmpeg-path", "", "path to the ffmpeg binary")
	root.PersistentFlags().StringVar(&flagFFprobePath, "ffprobe-path", "", "path to the ffprobe binary")

	root.AddCommand(newAnalyzeCommand(), newSearchCommand())

	if err := root.Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(int(needle.CodeOf(err)))
	}
}

func addAnalyzerFlags(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&flagOpeningPct, "opening-search-percentage", search.DefaultOpeningSearchPercentage,
		"fraction of each video searched for the opening")
	cmd.Flags().Float64Var(&flagEndingPct, "ending-search-percentage", search.DefaultEndingSearchPercentage,
		"fraction of each video searched for the ending")
	cmd.Flags().BoolVar(&flagNoEndings, "no-endings", false, "skip ending detection entirely")
	cmd.Flags().Float64Var(&flagHashDuration, "hash-duration", 3.0, "analysis window length in seconds")
	cmd.Flags().Float64Var(&flagHashPeriod, "hash-period", 0.3, "time between hash windows in seconds")
	cmd.Flags().BoolVar(&flagForce, "force", false, "re-analyze even when valid data exists on disk")
	cmd.Flags().BoolVar(&flagNoThreads, "no-threading", false, "process files sequentially")
}

func analyzerConfig() search.AnalyzerConfig {
	return search.DefaultAnalyzerConfig().
		WithOpeningSearchPercentage(flagOpeningPct).
		WithEndingSearchPercentage(flagEndingPct).
		WithIncludeEndings(!flagNoEndings).
		WithHashDuration(flagHashDuration).
		WithHashPeriod(flagHashPeriod).
		WithThreadedDecoding(!flagNoThreads).
		WithForce(flagForce).
		WithFFmpegPath(flagFFmpegPath).
		WithFFprobePath(flagFFprobePath)
}

func newAnalyzeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <path>...",
		Short: "Fingerprint videos and persist frame hash data next to them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			videos, err := media.FindVideoFiles(args, flagRecurse, false)
			if err != nil {
				return err
			}
			if len(videos) == 0 {
				return needle.NewError(needle.CodeInvalidArgument, "no video files found")
			}

			analyzer, err := search.NewAnalyzer(videos, analyzerConfig())
			if err != nil {
				return err
			}

			start := time.Now()
			hashes, runErr := analyzer.Run(!flagNoThreads, !flagNoPersist)
			analyzed := 0
			for _, fh := range hashes {
				if fh != nil {
					analyzed++
				}
			}
			log.Info("analysis finished", "videos", analyzed, "elapsed", time.Since(start).Round(time.Millisecond))
			return runErr
		},
	}
	addAnalyzerFlags(cmd)
	cmd.Flags().BoolVar(&flagNoPersist, "no-persist", false, "do not write frame hash data to disk")
	return cmd
}

func newSearchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <path>...",
		Short: "Find the opening and ending of every video in the set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			videos, err := media.FindVideoFiles(args, flagRecurse, false)
			if err != nil {
				return err
			}

			cfg := search.DefaultComparatorConfig().
				WithHashMatchThreshold(flagThreshold).
				WithMinOpeningDuration(flagMinOpening).
				WithMinEndingDuration(flagMinEnding).
				WithTimePadding(flagTimePadding).
				WithIncludeEndings(!flagNoEndings).
				WithAnalyzer(analyzerConfig())

			comparator, err := search.NewComparator(videos, cfg)
			if err != nil {
				return err
			}

			start := time.Now()
			results, runErr := comparator.Run(!flagNoAnalyze, flagUseSkip, flagWriteSkip, !flagNoThreads)
			log.Info("search finished", "videos", len(results), "elapsed", time.Since(start).Round(time.Millisecond))

			for _, r := range results {
				fmt.Println(r.Path)
				fmt.Printf("  opening: %s\n", formatInterval(r.Opening))
				fmt.Printf("  ending:  %s\n", formatInterval(r.Ending))
			}

			var runErrs search.RunErrors
			if errors.As(runErr, &runErrs) {
				log.Warn("some files failed to analyze", "count", len(runErrs))
			}
			return nil
		},
	}
	addAnalyzerFlags(cmd)
	cmd.Flags().Uint16Var(&flagThreshold, "hash-match-threshold", uint16(search.DefaultHashMatchThreshold),
		"maximum Hamming distance for two hashes to match")
	cmd.Flags().Uint16Var(&flagMinOpening, "min-opening-duration", uint16(search.DefaultMinOpeningDuration),
		"minimum opening length in seconds")
	cmd.Flags().Uint16Var(&flagMinEnding, "min-ending-duration", uint16(search.DefaultMinEndingDuration),
		"minimum ending length in seconds")
	cmd.Flags().Float64Var(&flagTimePadding, "time-padding", 0, "widen found intervals by this many seconds per side")
	cmd.Flags().BoolVar(&flagNoAnalyze, "no-analyze", false, "only use frame hash data already on disk")
	cmd.Flags().BoolVar(&flagUseSkip, "use-skip-files", false, "reuse results from existing skip files")
	cmd.Flags().BoolVar(&flagWriteSkip, "write-skip-files", false, "write a skip file next to each video")
	return cmd
}

func formatInterval(iv *search.Interval) string {
	if iv == nil {
		return "none"
	}
	return fmt.Sprintf("%s - %s", formatTime(iv.Start), formatTime(iv.End))
}

func formatTime(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
