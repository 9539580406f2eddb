// Command replay rebuilds a recorded match and shows it in the terminal or
// prints its frames as JSON. It can also list a participant's match history.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/protocol"
	"github.com/amalg/bomberman-arena/internal/replay"
	"github.com/amalg/bomberman-arena/internal/store"
	"github.com/amalg/bomberman-arena/internal/ui"
)

func main() {
	file := flag.String("file", "", "Replay file (.bmrp)")
	dsn := flag.String("db", os.Getenv("BOMBERMAN_DB"), `Store to read from: a postgres:// URL or a SQLite file path`)
	matchID := flag.Int64("match", 0, "Match id to load from -db")
	history := flag.Int64("history", 0, "List the matches of this participant from -db")
	asJSON := flag.Bool("json", false, "Print frames as JSON instead of playing them")
	interval := flag.Duration("interval", 300*time.Millisecond, "Time between frames")
	flag.Parse()

	ctx := context.Background()

	if *history > 0 {
		if err := printHistory(ctx, os.Stdout, *dsn, match.ParticipantID(*history)); err != nil {
			fmt.Fprintf(os.Stderr, "History failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	rec, err := load(ctx, *file, *dsn, *matchID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load replay: %v\n", err)
		os.Exit(1)
	}

	frames, err := replay.Play(rec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rebuild replay: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		if err := writeFrames(os.Stdout, rec, frames); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write frames: %v\n", err)
			os.Exit(1)
		}
		return
	}

	outcome, _, err := replay.Outcome(rec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to score replay: %v\n", err)
		os.Exit(1)
	}
	model := ui.NewReplayModel(frames, rec.Participants, outcome, *interval)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}
}

func load(ctx context.Context, file, dsn string, matchID int64) (replay.Record, error) {
	switch {
	case file != "":
		return replay.LoadFile(file)
	case matchID > 0:
		if dsn == "" {
			return replay.Record{}, fmt.Errorf("-match needs -db")
		}
		st, err := store.Open(ctx, dsn)
		if err != nil {
			return replay.Record{}, err
		}
		defer st.Close()
		return st.Replay(ctx, matchID)
	default:
		return replay.Record{}, fmt.Errorf("give -file or -db with -match")
	}
}

// writeFrames prints one JSON state view per line, as players saw them.
func writeFrames(w io.Writer, rec replay.Record, frames []game.Snapshot) error {
	enc := json.NewEncoder(w)
	for _, f := range frames {
		if err := enc.Encode(protocol.View(f, rec.Participants)); err != nil {
			return err
		}
	}
	return nil
}

func printHistory(ctx context.Context, w io.Writer, dsn string, id match.ParticipantID) error {
	if dsn == "" {
		return fmt.Errorf("-history needs -db")
	}
	st, err := store.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	rows, err := st.MatchesByParticipant(ctx, id, 0, 50)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintf(w, "No matches for participant %d\n", id)
		return nil
	}
	for _, r := range rows {
		fmt.Fprintf(w, "#%-6d lobby %-6d %-5s %+4d  %4d ticks  vs %v  %s\n",
			r.MatchID, r.LobbyID, r.Outcome, r.RatingDelta, r.Ticks, r.Opponents, r.PlayedAt.Format(time.DateTime))
	}
	return nil
}
