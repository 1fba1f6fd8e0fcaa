package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"go.aimuz.me/voxtype/audiocapture"
	"go.aimuz.me/voxtype/clipboard"
	"go.aimuz.me/voxtype/history"
	"go.aimuz.me/voxtype/internal/types"
)

var (
	historyLimit       int
	historyUndelivered bool
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := newBackend(cfg.Audio.Backend)
		if err != nil {
			return err
		}
		defer backend.Close()

		devices, err := audiocapture.New(audiocapture.DefaultConfig(), backend).Devices()
		if err != nil {
			return fmt.Errorf("list devices: %w", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDEFAULT")
		for _, d := range devices {
			def := ""
			if d.Default {
				def = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.Name, def)
		}
		return w.Flush()
	},
}

var transportsCmd = &cobra.Command{
	Use:   "transports",
	Short: "List transcription transports",
	Run: func(cmd *cobra.Command, args []string) {
		r := newRegistry(cfg)
		for _, name := range r.Names() {
			t := r.Get(name)
			info := types.TransportInfo{
				Name:        t.Name(),
				DisplayName: t.DisplayName(),
				Active:      name == cfg.Transcription.Transport,
			}
			mark := " "
			if info.Active {
				mark = "*"
			}
			fmt.Printf("%s %-12s %s\n", mark, info.Name, info.DisplayName)
		}
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent transcripts",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory(cfg.History)
		if err != nil {
			return err
		}
		defer store.Close()

		var entries []history.Entry
		if historyUndelivered {
			entries, err = store.Undelivered(historyLimit)
		} else {
			entries, err = store.List(historyLimit)
		}
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTIME\tAPP\tSTATUS\tTEXT")
		for _, e := range entries {
			status := e.Strategy
			if !e.Delivered {
				status = "undelivered"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.CreatedAt.Format(time.DateTime), e.App, status, truncate(e.Text, 60))
		}
		return w.Flush()
	},
}

var historyCopyCmd = &cobra.Command{
	Use:   "copy <id>",
	Short: "Copy a transcript to the clipboard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory(cfg.History)
		if err != nil {
			return err
		}
		defer store.Close()

		e, err := store.Get(args[0])
		if err != nil {
			return err
		}
		if err := (&clipboard.System{}).Write(e.Text); err != nil {
			return fmt.Errorf("write clipboard: %w", err)
		}
		fmt.Printf("Copied %d characters\n", len([]rune(e.Text)))
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show")
	historyCmd.Flags().BoolVar(&historyUndelivered, "undelivered", false, "only show text that was never inserted")
	historyCmd.AddCommand(historyCopyCmd)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
