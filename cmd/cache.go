// File: cmd/cache.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/halcyonqa/pilot-cli/internal/cache"
	"github.com/halcyonqa/pilot-cli/internal/observability"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the perceptual response cache",
}

var cacheLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cached responses",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := cache.New(cfg.Cache.Dir, observability.GetLogger())
		if err != nil {
			return err
		}
		entries := store.List()
		if len(entries) == 0 {
			fmt.Println("cache is empty")
			return nil
		}
		for _, m := range entries {
			fmt.Printf("%s  %-20s  %v\n", m.Timestamp.Format("2006-01-02 15:04:05"), m.Path, m.Params)
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached response",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := cache.New(cfg.Cache.Dir, observability.GetLogger())
		if err != nil {
			return err
		}
		return store.Clear()
	},
}

func init() {
	cacheCmd.AddCommand(cacheLsCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
