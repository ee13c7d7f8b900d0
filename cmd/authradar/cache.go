package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the geolocation cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size and location",
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := openCacheCommand()
		if err != nil {
			return err
		}
		defer stack.Close()

		if reportJSON {
			return printJSON(os.Stdout, stack.cache.Stats())
		}
		s := stack.cache.Stats()
		fmt.Printf("Backend: %s\n", s.Backend)
		fmt.Printf("Path:    %s\n", s.CacheFile)
		fmt.Printf("Entries: %d\n", s.TotalEntries)
		fmt.Printf("Size:    %d bytes\n", s.SizeBytes)
		fmt.Printf("Expiry:  %s\n", stack.cache.Expiry())
		return nil
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := openCacheCommand()
		if err != nil {
			return err
		}
		defer stack.Close()

		removed := stack.cache.CleanupExpired()
		fmt.Printf("Removed %d expired entries, %d remain\n", removed, stack.cache.Len())
		return nil
	},
}

func init() {
	cacheStatsCmd.Flags().BoolVar(&reportJSON, "json", false, "print JSON")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)
}

func openCacheCommand() (*geoStack, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	setupLogging(settings.LogLevel, true)
	return buildGeo(settings, nil)
}
