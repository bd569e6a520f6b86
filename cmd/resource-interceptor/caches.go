package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cmdCaches = &cobra.Command{
	Use:   "caches",
	Short: "List the cache stores in the cache DB",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		storage, err := openStorage(conf)
		if err != nil {
			return err
		}
		defer storage.Close()

		names, err := storage.Keys()
		if err != nil {
			return err
		}
		for _, name := range names {
			store, err := storage.Open(name)
			if err != nil {
				return err
			}
			keys, err := store.Keys()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", store.Name(), len(keys))
		}
		return nil
	},
}

func init() {
	cmdCaches.Flags().StringVar(&dbFlag, "db", "", "Cache DB file name")
}
