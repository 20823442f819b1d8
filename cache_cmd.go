package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/speechstream/pkg/voice"
)

var (
	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the on-disk clip cache",
	}

	cacheListCmd = &cobra.Command{
		Use:   "list",
		Short: "List cached clips",
		RunE:  runCacheList,
	}

	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete all cached clips",
		RunE:  runCacheClear,
	}
)

func init() {
	cacheCmd.AddCommand(cacheListCmd, cacheClearCmd)
}

// cacheDir resolves the directory holding cached clip files.
func cacheDir() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	dc, err := voice.NewDiskCache(cfg.DiskCache)
	if err != nil {
		return "", err
	}
	// All clips live in one directory, so it is the parent of any clip path.
	return filepath.Dir(dc.PathFor("probe")), nil
}

func runCacheList(*cobra.Command, []string) error {
	dir, err := cacheDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("cache is empty")
			return nil
		}
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	var count int
	var total int64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || entry.IsDir() || info.Size() == 0 {
			continue
		}
		count++
		total += info.Size()
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			entry.Name(),
			humanize.Bytes(uint64(info.Size())),
			humanize.Time(info.ModTime()))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if count == 0 {
		fmt.Println("cache is empty")
		return nil
	}
	fmt.Printf("\n%d clips, %s\n", count, humanize.Bytes(uint64(total)))
	return nil
}

func runCacheClear(*cobra.Command, []string) error {
	dir, err := cacheDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var removed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
		removed++
	}
	fmt.Printf("removed %d clips\n", removed)
	return nil
}
