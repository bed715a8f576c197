package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"github.com/zzenonn/digcap/internal/catalog"
	"github.com/zzenonn/digcap/internal/setmanager"
)

var catalogMirrorLocation string

var catalogRecordCmd = &cobra.Command{
	Use:   "catalog-record [set-dir]",
	Short: "Record a sealed set's metadata in the remote catalog table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := setmanager.LoadSet(args[0])
		if err != nil {
			return err
		}
		cat, err := catalog.NewDynamoCatalog(context.Background(), dynamodb.NewFromConfig(cfg.AwsConfig))
		if err != nil {
			return fmt.Errorf("opening catalog: %w", err)
		}
		entry := catalog.Entry{
			ID16:              set.ID16(),
			FullID:            set.ID,
			OriginalSize:      set.Metadata.OriginalSize,
			CapsuleCount:      set.Metadata.CapsuleCount,
			ConsensusVersion:  set.Metadata.ConsensusVersion,
			ChunkingAlgorithm: set.Metadata.ChunkingAlgorithm,
		}
		if catalogMirrorLocation != "" {
			entry.MirrorLocation = &catalogMirrorLocation
		}
		if err := cat.Record(context.Background(), entry); err != nil {
			return fmt.Errorf("recording set: %w", err)
		}
		fmt.Printf("recorded set %s in catalog\n", set.ID16())
		return nil
	},
}

var catalogLookupCmd = &cobra.Command{
	Use:   "catalog-lookup [id16]",
	Short: "Look up a sealed set's catalog entry by its short id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.NewDynamoCatalog(context.Background(), dynamodb.NewFromConfig(cfg.AwsConfig))
		if err != nil {
			return fmt.Errorf("opening catalog: %w", err)
		}
		entry, found, err := cat.Lookup(context.Background(), args[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no catalog entry for %s", args[0])
		}
		fmt.Printf("id16:              %s\n", entry.ID16)
		fmt.Printf("fullId:            %s\n", entry.FullID)
		fmt.Printf("originalSize:      %d\n", entry.OriginalSize)
		fmt.Printf("capsuleCount:      %d\n", entry.CapsuleCount)
		fmt.Printf("consensusVersion:  %s\n", entry.ConsensusVersion)
		fmt.Printf("chunkingAlgorithm: %s\n", entry.ChunkingAlgorithm)
		if entry.MirrorLocation != nil {
			fmt.Printf("mirrorLocation:    %s\n", *entry.MirrorLocation)
		}
		return nil
	},
}

var catalogTeardownCmd = &cobra.Command{
	Use:   "catalog-teardown",
	Short: "Delete the remote catalog table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := catalog.Teardown(context.Background(), dynamodb.NewFromConfig(cfg.AwsConfig)); err != nil {
			return fmt.Errorf("tearing down catalog table: %w", err)
		}
		fmt.Println("catalog table deleted")
		return nil
	},
}

func init() {
	catalogRecordCmd.Flags().StringVar(&catalogMirrorLocation, "mirror-location", "", "optional remote mirror location to record alongside the entry")
	rootCmd.AddCommand(catalogRecordCmd)
	rootCmd.AddCommand(catalogLookupCmd)
	rootCmd.AddCommand(catalogTeardownCmd)
}
