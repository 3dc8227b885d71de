package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/epubify/internal/config"
	"github.com/jackzampolin/epubify/internal/defra"
	"github.com/jackzampolin/epubify/internal/task"
)

var storeCmd = &cobra.Command{
	Use:     "store",
	Aliases: []string{"defra"},
	Short:   "Manage the DefraDB task store",
	Long: `With store.backend set to defra, task records live in a DefraDB container
whose data is kept under <home>/defradb. epubify serve starts and stops it;
these commands prepare or inspect it by hand.`,
}

var storeUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the task store and apply the ConversionTask schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		logger := newLogger(cmd.ErrOrStderr(), cfg.Logging)
		if _, err := task.OpenDefra(cmd.Context(), store, cfg.Retention(), logger); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Task store %s ready at %s\n", store.Name(), store.URL())
		return nil
	},
}

var storeRemove bool

var storeDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop the task store container",
	Long:  "Stop the task store container. Task data is kept, even with --remove.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if storeRemove {
			err = store.Remove(cmd.Context())
		} else {
			err = store.Stop(cmd.Context())
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Task store %s stopped\n", store.Name())
		return nil
	},
}

var storeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task store container state and health",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		state, err := store.State(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Backend:   %s\n", cfg.Store.Backend)
		fmt.Fprintf(out, "Container: %s (%s)\n", store.Name(), state)
		if state != defra.StateRunning {
			if cfg.Store.Backend == config.BackendDefra {
				fmt.Fprintln(out, "Run 'epubify store up' or 'epubify serve' to start it.")
			}
			return nil
		}

		health := "healthy"
		if err := defra.NewClient(store.URL()).HealthCheck(ctx); err != nil {
			health = err.Error()
		}
		fmt.Fprintf(out, "URL:       %s\n", store.URL())
		fmt.Fprintf(out, "Health:    %s\n", health)
		return nil
	},
}

var storeLogsTail string

var storeLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the task store container's logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		logs, err := store.Logs(cmd.Context(), storeLogsTail)
		if errors.Is(err, defra.ErrNotCreated) {
			return fmt.Errorf("%w: run 'epubify store up' first", err)
		}
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), logs)
		return nil
	},
}

func init() {
	storeDownCmd.Flags().BoolVar(&storeRemove, "remove", false, "Also remove the container")
	storeLogsCmd.Flags().StringVar(&storeLogsTail, "tail", "100", "Number of lines from the end")

	storeCmd.AddCommand(storeUpCmd, storeDownCmd, storeStatusCmd, storeLogsCmd)
	rootCmd.AddCommand(storeCmd)
}
