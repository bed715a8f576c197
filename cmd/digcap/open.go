package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zzenonn/digcap/internal/domain"
	"github.com/zzenonn/digcap/internal/pipeline"
	"github.com/zzenonn/digcap/internal/setmanager"
)

var (
	openMirrorPlatform string
	openMirrorBucket   string
	openMirrorPrefix   string
	openMirrorID16     string
)

var openCmd = &cobra.Command{
	Use:   "open [set-dir] [output-file]",
	Short: "Extract a capsule set back to its original bytes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, outputPath := args[0], args[1]

		key, err := resolveKey()
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}

		out, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer out.Close()

		opts := pipeline.Options{Key: key}
		if openMirrorBucket != "" && openMirrorID16 != "" {
			m, err := buildMirrorWith(openMirrorPlatform, openMirrorBucket, openMirrorPrefix)
			if err != nil {
				return err
			}
			opts.Mirror = m
			opts.MirrorID16 = openMirrorID16
		}

		n, err := pipeline.Extract(context.Background(), dir, out, opts)
		if err != nil {
			return fmt.Errorf("extracting: %w", err)
		}

		fmt.Printf("extracted %s -> %s (%d bytes)\n", dir, outputPath, n)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info [set-dir]",
	Short: "Print a capsule set's metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := setmanager.LoadSet(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("id:                 %s\n", set.ID)
		fmt.Printf("originalSize:       %d\n", set.Metadata.OriginalSize)
		fmt.Printf("capsuleCount:       %d\n", set.Metadata.CapsuleCount)
		fmt.Printf("chunkingAlgorithm:  %s\n", set.Metadata.ChunkingAlgorithm)
		fmt.Printf("consensusVersion:   %s\n", set.Metadata.ConsensusVersion)
		if set.Metadata.EncryptionInfo != nil {
			fmt.Printf("encryption:         %s (%s, %d iterations)\n",
				set.Metadata.EncryptionInfo.Algorithm, set.Metadata.EncryptionInfo.KeyDerivation, set.Metadata.EncryptionInfo.Iterations)
		} else {
			fmt.Println("encryption:         none")
		}
		if set.Metadata.CompressionInfo != nil {
			fmt.Printf("compression:        %s level %d\n", set.Metadata.CompressionInfo.Algorithm, set.Metadata.CompressionInfo.Level)
		}
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify [set-dir]",
	Short: "Validate a capsule set's consensus parameters and capsule headers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := setmanager.LoadSet(args[0])
		if err != nil {
			return err
		}
		if ok, err := setmanager.ValidateConsensusParameters(set); !ok {
			return err
		}
		for _, c := range set.Capsules {
			path := filepath.Join(args[0], domain.CapsuleFileName(set.ID16(), c.Index))
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("capsule %d missing: %w", c.Index, err)
			}
		}
		fmt.Printf("set %s: %d capsules, consensus OK\n", set.ID16(), set.Metadata.CapsuleCount)
		return nil
	},
}

func init() {
	openCmd.Flags().StringVar(&openMirrorPlatform, "mirror-platform", "s3", "mirror backend to pull from if set-dir has no sidecar: s3 or gcs")
	openCmd.Flags().StringVar(&openMirrorBucket, "mirror-bucket", "", "remote bucket to pull from if set-dir has no sidecar")
	openCmd.Flags().StringVar(&openMirrorPrefix, "mirror-prefix", "", "key prefix within --mirror-bucket")
	openCmd.Flags().StringVar(&openMirrorID16, "mirror-id16", "", "id16 of the set to pull if set-dir has no sidecar")
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(verifyCmd)
}
