package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neuraldrift/neuraldrift/internal/ledger"
)

// withBackend opens the backend for the duration of fn.
func withBackend(fn func(b backend) error) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(b)
}

func printLevelUp(ev *ledger.LevelEvent) {
	if ev != nil {
		fmt.Printf("*** LEVEL UP: %d -> %d, %s ***\n", ev.From, ev.To, ev.Title)
	}
}

func printEntries(entries []ledger.Entry, empty string) {
	if len(entries) == 0 {
		fmt.Println(empty)
		return
	}
	for i, e := range entries {
		mark := ""
		if e.Fact.Verified {
			mark = " ✓"
		}
		fmt.Printf("%d. [%s] %s (%d%%%s)\n", i+1, e.Topic, e.Fact.Text, e.Fact.Confidence, mark)
		fmt.Printf("   source: %s, recalled %d times, learned %s\n", e.Fact.Source, e.Fact.RecallCount, e.Fact.LearnedAt)
	}
}

// --- learn ---

var (
	learnConfidence int
	learnSource     string
	learnVerified   bool
)

var learnCmd = &cobra.Command{
	Use:   "learn <topic> <fact...>",
	Short: "File a fact under a topic",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := ledger.NewClaim(args[0], strings.Join(args[1:], " "))
		c.Confidence = learnConfidence
		c.Source = learnSource
		c.Verified = learnVerified
		return withBackend(func(b backend) error {
			res, err := b.Learn(c)
			if err != nil {
				return err
			}
			return emit(res, func() {
				switch res.Outcome {
				case ledger.Added:
					fmt.Printf("Learned [%s] %s (%d%%, +%d XP)\n", res.Topic, res.Fact.Text, res.Fact.Confidence, res.XPGained)
				case ledger.Raised:
					fmt.Printf("Already known, confidence raised to %d%%\n", res.Fact.Confidence)
				default:
					fmt.Println("Already known.")
				}
				printLevelUp(res.LevelUp)
			})
		})
	},
}

// --- recall / search ---

var (
	recallMin   int
	recallLimit int
)

var recallCmd = &cobra.Command{
	Use:   "recall [topic]",
	Short: "List facts on a topic, or across all topics",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := ledger.RecallOpts{MinConfidence: recallMin, Limit: recallLimit}
		return withBackend(func(b backend) error {
			var (
				entries []ledger.Entry
				err     error
			)
			if len(args) == 1 {
				entries, err = b.Recall(args[0], opts)
			} else {
				entries, err = b.RecallAll(opts)
			}
			if err != nil {
				return err
			}
			return emit(entries, func() { printEntries(entries, "No knowledge on that yet.") })
		})
	},
}

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Find facts whose text or topic contains a keyword",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			hits, err := b.Search(strings.Join(args, " "), searchLimit)
			if err != nil {
				return err
			}
			return emit(hits, func() { printEntries(hits, "No results found.") })
		})
	},
}

// --- verify / forget ---

var verifyConfidence int

var verifyCmd = &cobra.Command{
	Use:   "verify <topic> <substring>",
	Short: "Mark the first matching fact as verified",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var conf *int
		if cmd.Flags().Changed("confidence") {
			conf = &verifyConfidence
		}
		return withBackend(func(b backend) error {
			f, err := b.Verify(args[0], args[1], conf)
			if err != nil {
				return err
			}
			return emit(f, func() { fmt.Printf("Verified: %s (%d%%)\n", f.Text, f.Confidence) })
		})
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <topic> <substring>",
	Short: "Remove the first matching fact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			f, err := b.Forget(args[0], args[1])
			if err != nil {
				return err
			}
			return emit(f, func() { fmt.Printf("Forgot: %s\n", f.Text) })
		})
	},
}

// --- overview ---

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List topics with fact counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			topics, err := b.Topics()
			if err != nil {
				return err
			}
			return emit(topics, func() {
				if len(topics) == 0 {
					fmt.Println("The ledger is empty.")
					return
				}
				for _, t := range topics {
					fmt.Printf("  %-24s %3d facts  avg %.0f%%  %d verified\n", t.Topic, t.Facts, t.AvgConfidence, t.Verified)
				}
			})
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			st, err := b.Stats()
			if err != nil {
				return err
			}
			return emit(st, func() {
				fmt.Printf("Topics:     %d\n", st.Topics)
				fmt.Printf("Facts:      %d (%d verified, %d cited, %d decayed)\n", st.Facts, st.Verified, st.Cited, st.Decayed)
				fmt.Printf("Soft notes: %d\n", st.SoftNotes)
				fmt.Printf("Confidence: %.1f%% average\n", st.AvgConfidence)
				fmt.Printf("XP:         %s (level %d)\n", humanize.Comma(int64(st.XP)), st.Level)
			})
		})
	},
}

var levelCmd = &cobra.Command{
	Use:   "level",
	Short: "Show XP, level and title",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			info, err := b.Level()
			if err != nil {
				return err
			}
			return emit(info, func() {
				fmt.Printf("Level %d: %s\n", info.Level, info.Title)
				fmt.Printf("XP %s, %d/100 into level, %d to %s\n",
					humanize.Comma(int64(info.XP)), info.Progress, info.ToNext, info.NextTitle)
				fmt.Printf("Facts: %d cited, %d uncited (%d decayed)\n", info.Cited, info.Uncited, info.Decayed)
				for _, ev := range info.History {
					fmt.Printf("  %s  %d -> %d %s\n", ev.Timestamp, ev.From, ev.To, ev.Title)
				}
			})
		})
	},
}

// --- temperature ---

var heatmapCmd = &cobra.Command{
	Use:   "heatmap",
	Short: "Rank topics by temperature",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			rows, err := b.Heatmap()
			if err != nil {
				return err
			}
			return emit(rows, func() {
				for _, h := range rows {
					bar := strings.Repeat("#", int(h.Temperature/5))
					fmt.Printf("  %-24s %5.1f° %-20s %d facts (%d hot, %d cold)\n", h.Topic, h.Temperature, bar, h.Facts, h.Hot, h.Cold)
				}
			})
		})
	},
}

var coldThreshold float64

var coldspotsCmd = &cobra.Command{
	Use:   "coldspots",
	Short: "List facts that have gone cold",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			spots, err := b.ColdSpots(coldThreshold)
			if err != nil {
				return err
			}
			return emit(spots, func() {
				if len(spots) == 0 {
					fmt.Println("Nothing is cold.")
					return
				}
				for _, c := range spots {
					fmt.Printf("  %-7s %5.1f° [%s] %s (%.1f days, recalled %d)\n",
						c.State, c.Temperature, c.Topic, c.Fact, c.AgeDays, c.RecallCount)
				}
			})
		})
	},
}

var warmupCmd = &cobra.Command{
	Use:   "warmup <topic>",
	Short: "Touch every fact in a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			res, err := b.WarmUp(args[0])
			if err != nil {
				return err
			}
			return emit(res, func() {
				fmt.Printf("Warmed [%s]: %d facts, %.1f° -> %.1f°\n", res.Topic, res.Facts, res.Before, res.After)
			})
		})
	},
}

// --- association ---

var associateCmd = &cobra.Command{
	Use:   "associate <text...>",
	Short: "Find facts related to free text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			hits, err := b.Associate(strings.Join(args, " "))
			if err != nil {
				return err
			}
			return emit(hits, func() {
				if len(hits) == 0 {
					fmt.Println("No associations.")
					return
				}
				for _, h := range hits {
					fmt.Printf("  [%.2f] [%s] %s\n", h.Score, h.Topic, h.Fact.Text)
				}
			})
		})
	},
}

var museTags []string

var museCmd = &cobra.Command{
	Use:   "muse <note...>",
	Short: "Keep a soft note outside the fact ledger",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			ev, err := b.Muse(strings.Join(args, " "), museTags)
			if err != nil {
				return err
			}
			return emit(map[string]any{"status": "ok", "level_up": ev}, func() {
				fmt.Println("Noted.")
				printLevelUp(ev)
			})
		})
	},
}

var musingsLike string

var musingsCmd = &cobra.Command{
	Use:   "musings [tag]",
	Short: "List soft notes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tag := ""
		if len(args) == 1 {
			tag = args[0]
		}
		if musingsLike != "" {
			l, err := openLocal(cfg)
			if err != nil {
				return err
			}
			return printMusings(l.ledger.SoftAssociate(musingsLike))
		}
		return withBackend(func(b backend) error {
			notes, err := b.Musings(tag)
			if err != nil {
				return err
			}
			return printMusings(notes)
		})
	},
}

func printMusings(notes []ledger.SoftNote) error {
	return emit(notes, func() {
		for _, n := range notes {
			when := n.Added.String()
			if !n.Added.IsZero() {
				when = humanize.Time(n.Added.Time)
			}
			fmt.Printf("- %s [%s] (%s)\n", n.Note, strings.Join(n.Tags, ", "), when)
		}
	})
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Print the prompt context block",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			ctx, err := b.Context()
			if err != nil {
				return err
			}
			return emit(map[string]string{"context": ctx}, func() { fmt.Println(ctx) })
		})
	},
}

var maxRecallCmd = &cobra.Command{
	Use:   "max-recall [n]",
	Short: "Show or set the result cap (0 = unlimited)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLocal(cfg)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("max-recall: %q is not a number", args[0])
			}
			if err := l.ledger.SetMaxRecall(n); err != nil {
				return err
			}
		}
		n := l.ledger.MaxRecall()
		return emit(map[string]int{"max_recall": n}, func() {
			if n == 0 {
				fmt.Println("max_recall: unlimited")
				return
			}
			fmt.Printf("max_recall: %d\n", n)
		})
	},
}

func init() {
	learnCmd.Flags().IntVarP(&learnConfidence, "confidence", "c", ledger.DefaultConfidence, "Confidence 0-100")
	learnCmd.Flags().StringVarP(&learnSource, "source", "s", ledger.DefaultSource, "Where the fact came from")
	learnCmd.Flags().BoolVar(&learnVerified, "verified", false, "Mark the fact verified")

	recallCmd.Flags().IntVar(&recallMin, "min", 0, "Minimum confidence")
	recallCmd.Flags().IntVarP(&recallLimit, "limit", "n", 0, "Maximum number of results (default max_recall)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "Maximum number of results (default max_recall)")
	verifyCmd.Flags().IntVarP(&verifyConfidence, "confidence", "c", 0, "Also set confidence")
	coldspotsCmd.Flags().Float64Var(&coldThreshold, "threshold", 0, "Temperature cutoff (default the configured cold mark)")
	museCmd.Flags().StringSliceVarP(&museTags, "tag", "t", nil, "Tag the note (repeatable)")
	musingsCmd.Flags().StringVar(&musingsLike, "like", "", "Only notes sharing words with this text (reads the ledger file directly)")

	rootCmd.AddCommand(learnCmd, recallCmd, searchCmd, verifyCmd, forgetCmd)
	rootCmd.AddCommand(topicsCmd, statsCmd, levelCmd)
	rootCmd.AddCommand(heatmapCmd, coldspotsCmd, warmupCmd)
	rootCmd.AddCommand(associateCmd, museCmd, musingsCmd, contextCmd, maxRecallCmd)
}
