package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"linedex/internal/source"
)

func newCompressCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compress SOURCE OUT",
		Short: "Write a seekable zstd copy of a source",
		Long: `Compress writes OUT in the seekable zstd format. A compressed source is
detected automatically by build and serve; line offsets always refer to
uncompressed bytes, so an index built from either copy serves both.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			levelFlag, _ := cmd.Flags().GetString("level")
			ok, level := zstd.EncoderLevelFromString(levelFlag)
			if !ok {
				return fmt.Errorf("unknown compression level %q", levelFlag)
			}
			return runCompress(logger, args[0], args[1], level)
		},
	}
	cmd.Flags().String("level", zstd.SpeedDefault.String(), "zstd level: fastest, default, better, best")
	return cmd
}

func runCompress(logger *slog.Logger, src, dst string, level zstd.EncoderLevel) error {
	logger = logger.With("component", "compress")
	start := time.Now()
	if err := source.Compress(src, dst, level); err != nil {
		return err
	}

	in, err := os.Stat(src)
	if err != nil {
		return err
	}
	out, err := os.Stat(dst)
	if err != nil {
		return err
	}
	ratio := 0.0
	if in.Size() > 0 {
		ratio = float64(out.Size()) / float64(in.Size())
	}
	logger.Info("source compressed",
		"source", src,
		"out", dst,
		"bytes_in", in.Size(),
		"bytes_out", out.Size(),
		"ratio", fmt.Sprintf("%.3f", ratio),
		"elapsed", time.Since(start))
	return nil
}
