package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/zzenonn/digcap/internal/catalog"
	"github.com/zzenonn/digcap/internal/pipeline"
	"github.com/zzenonn/digcap/internal/seal"
)

var (
	quiet bool

	sealMirrorPlatform string
	sealMirrorBucket   string
	sealMirrorPrefix   string
	sealCatalog        bool
)

var sealCmd = &cobra.Command{
	Use:   "seal [input-file] [output-dir]",
	Short: "Seal a file into a capsule set",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputPath, outputDir := args[0], args[1]

		key, err := resolveKey()
		if err != nil {
			return err
		}

		f, err := os.Open(inputPath)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("statting input: %w", err)
		}

		var reader io.Reader = f
		if !quiet {
			bar := progressbar.DefaultBytes(info.Size(), "sealing")
			pbReader := progressbar.NewReader(f, bar)
			reader = &pbReader
		}

		opts := pipeline.Options{PostPad: postPad, Key: key}
		if sealMirrorBucket != "" {
			m, err := buildMirrorWith(sealMirrorPlatform, sealMirrorBucket, sealMirrorPrefix)
			if err != nil {
				return err
			}
			opts.Mirror = m
			opts.CatalogMirrorLocation = fmt.Sprintf("%s:%s/%s", sealMirrorPlatform, sealMirrorBucket, sealMirrorPrefix)
		}
		if sealCatalog {
			cat, err := catalog.NewDynamoCatalog(context.Background(), dynamodb.NewFromConfig(cfg.AwsConfig))
			if err != nil {
				return fmt.Errorf("opening catalog: %w", err)
			}
			opts.Catalog = cat
		}

		set, err := pipeline.Create(context.Background(), reader, info.Size(), outputDir, opts)
		if err != nil {
			return fmt.Errorf("sealing: %w", err)
		}

		fmt.Printf("sealed %s -> %s (%d capsules, id %s)\n", inputPath, outputDir, set.Metadata.CapsuleCount, set.ID16())
		return nil
	},
}

func resolveKey() (*seal.Key, error) {
	switch {
	case passphrase != "" && rawKeyHex != "":
		return nil, fmt.Errorf("specify at most one of --passphrase or --key-hex")
	case passphrase != "":
		k := seal.PassphraseKey(passphrase)
		return &k, nil
	case rawKeyHex != "":
		raw, err := hex.DecodeString(rawKeyHex)
		if err != nil {
			return nil, fmt.Errorf("decoding --key-hex: %w", err)
		}
		k, err := seal.RawKey(raw)
		if err != nil {
			return nil, err
		}
		return &k, nil
	default:
		return nil, nil
	}
}

func init() {
	sealCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress bar")
	sealCmd.Flags().StringVar(&sealMirrorPlatform, "mirror-platform", "s3", "mirror backend to push to: s3 or gcs")
	sealCmd.Flags().StringVar(&sealMirrorBucket, "mirror-bucket", "", "remote bucket to push the sealed set to, best-effort")
	sealCmd.Flags().StringVar(&sealMirrorPrefix, "mirror-prefix", "", "key prefix within --mirror-bucket")
	sealCmd.Flags().BoolVar(&sealCatalog, "catalog", false, "record the sealed set in the remote catalog table, best-effort")
	rootCmd.AddCommand(sealCmd)
}
