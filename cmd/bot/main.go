// Command bot plays lobbies with weighted random actions. Several bots can
// share one process, one per participant id.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/logger"
	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/network"
	"github.com/amalg/bomberman-arena/internal/protocol"
)

// weighted favors movement over standing still and bombing.
var weighted = []struct {
	action game.Action
	weight int
}{
	{game.Up, 10},
	{game.Down, 10},
	{game.Left, 10},
	{game.Right, 10},
	{game.Stay, 3},
	{game.PlaceBomb, 1},
}

func pick(rng *rand.Rand) game.Action {
	total := 0
	for _, w := range weighted {
		total += w.weight
	}
	n := rng.Intn(total)
	for _, w := range weighted {
		if n < w.weight {
			return w.action
		}
		n -= w.weight
	}
	return game.Stay
}

func main() {
	server := flag.String("server", "ws://127.0.0.1:8080", "Server address")
	lobby := flag.Int64("lobby", 0, "Lobby to join")
	users := flag.String("users", "", "Comma-separated participant ids, one bot each")
	delay := flag.Duration("delay", time.Second, "Think time before each action")
	seed := flag.Int64("seed", 0, "Random seed (0 for random)")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	ids, err := parseUsers(*users)
	if err != nil || *lobby <= 0 {
		fmt.Fprintln(os.Stderr, "Usage: bot -lobby <id> -users <id>[,<id>...] [-server <url>]")
		os.Exit(1)
	}

	log := logger.New(*level, "text", os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		b := &bot{
			url:   network.LobbyURL(*server, match.LobbyID(*lobby), id),
			rng:   rand.New(rand.NewSource(*seed + int64(i))),
			delay: *delay,
			log:   logger.Component(log, "bot").WithField("participant_id", id),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.play(ctx); err != nil {
				b.log.WithError(err).Error("Bot stopped")
			}
		}()
	}
	wg.Wait()
}

func parseUsers(s string) ([]match.ParticipantID, error) {
	var ids []match.ParticipantID
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("bad participant id %q", f)
		}
		ids = append(ids, match.ParticipantID(n))
	}
	return ids, nil
}

type bot struct {
	url   string
	rng   *rand.Rand
	delay time.Duration
	log   *logrus.Entry
}

// play answers every state frame with one action until the match ends.
func (b *bot) play(ctx context.Context) error {
	client, err := network.Dial(ctx, b.url)
	if err != nil {
		return err
	}
	defer client.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-client.Messages():
			if !ok {
				return client.Err()
			}
			switch msg.Event {
			case protocol.EventInitState, protocol.EventState, protocol.EventReconnectState:
			case protocol.EventGameOver:
				if msg.WinnerID != nil {
					b.log.Infof("Match over, %d wins", *msg.WinnerID)
				} else {
					b.log.Info("Match over, draw")
				}
				continue
			default:
				continue
			}

			if !alive(msg.StateView, client.Participant()) {
				continue
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.delay):
			}
			action := pick(b.rng)
			b.log.WithField("tick", msg.StateView.Tick).Debugf("Sending %s", action)
			if err := client.SendActionParams(action, map[string]any{"bot": true}); err != nil {
				return err
			}
		}
	}
}

func alive(view *protocol.StateView, me match.ParticipantID) bool {
	if view == nil {
		return false
	}
	p, ok := view.Players[me]
	return ok && p.Alive
}
