package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zzenonn/digcap/internal/redundancy"
	"github.com/zzenonn/digcap/internal/setmanager"
)

var parityShards int

var protectCmd = &cobra.Command{
	Use:   "protect [set-dir]",
	Short: "Add Reed-Solomon parity shards across a set's capsule files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := setmanager.LoadSet(args[0])
		if err != nil {
			return err
		}
		if err := redundancy.Protect(context.Background(), args[0], set, parityShards); err != nil {
			return fmt.Errorf("protecting set: %w", err)
		}
		fmt.Printf("wrote %d parity shards for set %s\n", parityShards, set.ID16())
		return nil
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair [set-dir]",
	Short: "Reconstruct missing capsule files from a set's parity shards",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := setmanager.LoadSet(args[0])
		if err != nil {
			return err
		}
		if err := redundancy.Repair(context.Background(), args[0], set); err != nil {
			return fmt.Errorf("repairing set: %w", err)
		}
		fmt.Printf("repaired set %s from parity\n", set.ID16())
		return nil
	},
}

func init() {
	protectCmd.Flags().IntVar(&parityShards, "parity-shards", 2, "number of parity shards to generate")
	rootCmd.AddCommand(protectCmd)
	rootCmd.AddCommand(repairCmd)
}
