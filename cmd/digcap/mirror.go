package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/zzenonn/digcap/internal/mirror"
	"github.com/zzenonn/digcap/internal/setmanager"
)

var (
	mirrorPlatform string
	mirrorBucket   string
	mirrorPrefix   string
)

func buildMirrorWith(platform, bucket, prefix string) (mirror.Mirror, error) {
	var s3Client *s3.Client
	if cfg.AwsConfig.Region != "" {
		s3Client = s3.NewFromConfig(cfg.AwsConfig)
	}
	return mirror.NewFromPlatform(platform, s3Client, cfg.GcsClient, bucket, prefix)
}

func buildMirror() (mirror.Mirror, error) {
	return buildMirrorWith(mirrorPlatform, mirrorBucket, mirrorPrefix)
}

var mirrorPushCmd = &cobra.Command{
	Use:   "mirror-push [set-dir]",
	Short: "Push a sealed set's files to a remote mirror bucket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := setmanager.LoadSet(args[0])
		if err != nil {
			return err
		}
		m, err := buildMirror()
		if err != nil {
			return err
		}
		if err := m.Push(context.Background(), args[0], set.ID16()); err != nil {
			return fmt.Errorf("mirror push had failures: %w", err)
		}
		fmt.Printf("mirrored set %s to %s\n", set.ID16(), mirrorBucket)
		return nil
	},
}

// mirrorPullCmd takes the id16 directly, rather than a set directory: a
// fresh pull has no local sidecar yet to load an id16 from.
var mirrorPullCmd = &cobra.Command{
	Use:   "mirror-pull [id16] [dest-dir]",
	Short: "Pull a sealed set's files from a remote mirror bucket into dest-dir",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := buildMirror()
		if err != nil {
			return err
		}
		if err := m.Pull(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("mirror pull had failures: %w", err)
		}
		fmt.Printf("pulled set %s from %s into %s\n", args[0], mirrorBucket, args[1])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{mirrorPushCmd, mirrorPullCmd} {
		c.Flags().StringVar(&mirrorPlatform, "platform", "s3", "mirror backend: s3 or gcs")
		c.Flags().StringVar(&mirrorBucket, "bucket", "", "remote bucket name")
		c.Flags().StringVar(&mirrorPrefix, "prefix", "", "key prefix within the bucket")
	}
	rootCmd.AddCommand(mirrorPushCmd)
	rootCmd.AddCommand(mirrorPullCmd)
}
