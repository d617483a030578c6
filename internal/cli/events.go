package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neuraldrift/neuraldrift/internal/journal"
)

var (
	eventsKind  string
	eventsLimit int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent daemon events from the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := journal.Open(cfg.JournalPath())
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()

		events, err := j.Recent(eventsKind, eventsLimit)
		if err != nil {
			return err
		}
		return emit(events, func() {
			if len(events) == 0 {
				fmt.Println("No events recorded.")
				return
			}
			for _, ev := range events {
				when := humanize.Time(time.UnixMilli(ev.CreatedAt))
				topic := ""
				if ev.Topic != "" {
					topic = " [" + ev.Topic + "]"
				}
				fmt.Printf("%6d  %-14s %-10s%s %s\n", ev.Seq, when, ev.Kind, topic, ev.Payload)
			}
		})
	},
}

func init() {
	eventsCmd.Flags().StringVarP(&eventsKind, "kind", "k", "", "Only events of this kind")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "Maximum number of events")
}
