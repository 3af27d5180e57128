package voicelog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sjzar/voicelog/internal/model"
	"github.com/sjzar/voicelog/internal/voicelog"
	"github.com/sjzar/voicelog/internal/voicelog/ingest"
	"github.com/sjzar/voicelog/pkg/util"
)

var (
	importTitle        string
	importRemoveSource bool
	importWait         bool
	importSegment      float64

	retryWait bool

	listTitle string
	listLimit int

	searchSession string
	searchLimit   int
)

func init() {
	importCmd.Flags().StringVarP(&importTitle, "title", "t", "", "session title (default: \"Recording at HH:MM\")")
	importCmd.Flags().BoolVar(&importRemoveSource, "remove-source", false, "delete the plaintext file after import")
	importCmd.Flags().BoolVarP(&importWait, "wait", "w", false, "wait for transcription to finish")
	importCmd.Flags().Float64Var(&importSegment, "segment-seconds", -1, "split into windows of this many seconds (0 = one segment)")

	retryCmd.Flags().BoolVarP(&retryWait, "wait", "w", true, "wait for retried segments to finish")

	sessionsCmd.Flags().StringVarP(&listTitle, "title", "t", "", "filter by title substring")
	sessionsCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "maximum sessions to list")

	searchCmd.Flags().StringVarP(&searchSession, "session", "s", "", "comma separated session ids")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "maximum hits")

	rootCmd.AddCommand(importCmd, retryCmd, sessionsCmd, showCmd, deleteCmd, searchCmd, indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)
}

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Encrypt recordings into sessions and queue them for transcription",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := voicelog.Options{}
		if importWait {
			opts = interactive()
		}
		opts.SkipRecover = true
		app, err := openApp(opts, nil)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := signalContext()
		defer cancel()
		stopIndex := app.WatchIndex(ctx)

		segSeconds := app.Config.Get().Transcription.SegmentSeconds
		if importSegment >= 0 {
			segSeconds = importSegment
		}

		var sessions []string
		for _, path := range args {
			res, err := app.Importer.Import(ctx, path, ingest.Options{
				Title:          importTitle,
				RemoveSource:   importRemoveSource,
				SegmentSeconds: segSeconds,
			})
			if res == nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if err != nil {
				log.Warn().Err(err).Str("session", res.Session.ID).Msg("some segments were not queued")
			}
			if res.Duplicate {
				fmt.Printf("%s\talready imported as %s\n", path, res.Session.ID)
				continue
			}
			fmt.Printf("%s\t%s\t%s\t%d segment(s)\n", path, res.Session.ID, res.Session.Title, len(res.Segments))
			sessions = append(sessions, res.Session.ID)
		}

		if !importWait {
			stopIndex()
			return nil
		}
		app.Pipeline.Wait()
		stopIndex()
		for _, id := range sessions {
			if err := printSession(ctx, app.Store, id); err != nil {
				return err
			}
		}
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry every segment in the offline queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(interactive(), nil)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := signalContext()
		defer cancel()
		stopIndex := app.WatchIndex(ctx)
		defer stopIndex()

		n, err := app.Pipeline.RetryQueuedSegments(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("dispatched %d queued segment(s)\n", n)
		if retryWait {
			app.Pipeline.Wait()
			left, err := app.Store.CountQueuedSegments(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d segment(s) still queued\n", left)
		}
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(readOnly(), nil)
		if err != nil {
			return err
		}
		defer app.Close()

		sessions, err := app.Store.ListSessions(cmd.Context(), model.SessionFilter{TitleContains: listTitle, Limit: listLimit})
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tDURATION\tTITLE")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.CreatedAt.Format("2006-01-02 15:04"), util.FormatClock(s.Duration), s.Title)
		}
		return w.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session and its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(readOnly(), nil)
		if err != nil {
			return err
		}
		defer app.Close()
		return printSession(cmd.Context(), app.Store, args[0])
	},
}

type sessionGetter interface {
	GetSession(ctx context.Context, id string) (*model.Session, error)
}

func printSession(ctx context.Context, store sessionGetter, id string) error {
	sess, err := store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("%s  %s  (%s, %s)\n", sess.ID, sess.Title, sess.CreatedAt.Format("2006-01-02 15:04"), util.FormatClock(sess.Duration))
	for _, seg := range sess.Segments {
		window := "whole"
		if !seg.WholeFile() {
			window = util.FormatClock(seg.StartTime) + "-" + util.FormatClock(seg.EndTime)
		}
		line := fmt.Sprintf("  #%d %-12s %-12s", seg.Seq, window, seg.Status)
		if seg.Text != "" {
			line += " " + strings.ReplaceAll(seg.Text, "\n", " ")
		}
		fmt.Println(line)
	}
	return nil
}

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session, its encrypted audio and its segments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(voicelog.Options{ReadOnly: true}, nil)
		if err != nil {
			return err
		}
		defer app.Close()
		if err := app.DeleteSession(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("deleted", args[0])
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search completed transcripts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(voicelog.Options{ReadOnly: true}, nil)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		if err := app.Index.Sync(ctx); err != nil {
			return err
		}
		resp, err := app.Index.Search(ctx, &model.SearchRequest{
			Query:   strings.Join(args, " "),
			Session: searchSession,
			Limit:   searchLimit,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%d hit(s)\n", resp.Total)
		for _, hit := range resp.Hits {
			fmt.Printf("%s  %s [%s-%s]\n    %s\n", hit.SessionID, hit.SessionTitle,
				util.FormatClock(hit.StartTime), util.FormatClock(hit.EndTime), hit.Text)
		}
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the transcript search index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the search index from the session store",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(voicelog.Options{ReadOnly: true}, nil)
		if err != nil {
			return err
		}
		defer app.Close()
		if err := app.Index.Rebuild(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("indexed %d segment(s)\n", app.Index.Status().Documents)
		return nil
	},
}
