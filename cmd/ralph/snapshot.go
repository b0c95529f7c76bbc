package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jscraik/ralph-gold/internal/rlog"
	"github.com/jscraik/ralph-gold/internal/snapshot"
)

var (
	flagSnapshotDescription string
	flagSnapshotForce       bool
	flagSnapshotKeep        int
)

func init() {
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create, list, rollback, or clean up named savepoints",
	}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Args:  cobra.ExactArgs(1),
		Short: "Push a git stash excluding .ralph/ and back up state.json",
		RunE:  runSnapshotCreate,
	}
	createCmd.Flags().StringVar(&flagSnapshotDescription, "description", "", "optional human-readable description")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots recorded in state.json",
		RunE:  runSnapshotList,
	}

	rollbackCmd := &cobra.Command{
		Use:   "rollback <name>",
		Args:  cobra.ExactArgs(1),
		Short: "Apply a snapshot's stash and restore state.json from its backup",
		RunE:  runSnapshotRollback,
	}
	rollbackCmd.Flags().BoolVar(&flagSnapshotForce, "force", false, "roll back even with a dirty working tree")

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Keep only the N most recent snapshots",
		RunE:  runSnapshotCleanup,
	}
	cleanupCmd.Flags().IntVar(&flagSnapshotKeep, "keep", 5, "number of most recent snapshots to retain")

	snapshotCmd.AddCommand(createCmd, listCmd, rollbackCmd, cleanupCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshotCreate(cmd *cobra.Command, args []string) error {
	w, err := wire(flagProjectRoot)
	if err != nil {
		return err
	}
	logger := rlog.New(rlog.Verbosity(w.Config.Output.Verbosity))

	meta, err := snapshot.Create(context.Background(), w.Root, w.RalphDir, args[0], flagSnapshotDescription, w.Store)
	if err != nil {
		return err
	}
	logger.Status("snapshot %q created: stash=%s commit=%s", meta.Name, meta.GitStashRef, meta.GitCommit)
	return nil
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	w, err := wire(flagProjectRoot)
	if err != nil {
		return err
	}
	st, err := w.Store.Load()
	if err != nil {
		return err
	}
	for _, m := range snapshot.List(st) {
		fmt.Printf("%s\t%s\t%s\t%s\n", m.Name, m.Timestamp.Format("2006-01-02T15:04:05Z"), m.GitStashRef, m.Description)
	}
	return nil
}

func runSnapshotRollback(cmd *cobra.Command, args []string) error {
	w, err := wire(flagProjectRoot)
	if err != nil {
		return err
	}
	logger := rlog.New(rlog.Verbosity(w.Config.Output.Verbosity))

	st, err := w.Store.Load()
	if err != nil {
		return err
	}
	meta, err := snapshot.Find(st, args[0])
	if err != nil {
		return err
	}
	if err := snapshot.Rollback(context.Background(), w.Root, w.Store, meta, flagSnapshotForce); err != nil {
		return err
	}
	logger.Status("rolled back to snapshot %q", meta.Name)
	return nil
}

func runSnapshotCleanup(cmd *cobra.Command, args []string) error {
	w, err := wire(flagProjectRoot)
	if err != nil {
		return err
	}
	logger := rlog.New(rlog.Verbosity(w.Config.Output.Verbosity))

	removed, err := snapshot.Cleanup(context.Background(), w.Root, w.Store, flagSnapshotKeep)
	if err != nil {
		return err
	}
	logger.Status("cleanup removed %d snapshot(s): %v", len(removed), removed)
	return nil
}
