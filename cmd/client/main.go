package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/amalg/bomberman-arena/internal/discovery"
	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/network"
	"github.com/amalg/bomberman-arena/internal/ui"
)

func main() {
	server := flag.String("server", "ws://127.0.0.1:8080", "Server address (e.g., ws://192.168.1.5:8080)")
	lobby := flag.Int64("lobby", 0, "Lobby to join")
	user := flag.Int64("user", 0, "Your participant id")
	browse := flag.Bool("browse", false, "Pick a server from the LAN instead of -server")
	discoveryPort := flag.Int("discovery-port", discovery.DefaultPort, "UDP port for LAN discovery")
	flag.Parse()

	if *lobby <= 0 || *user <= 0 {
		fmt.Fprintln(os.Stderr, "Usage: client -lobby <id> -user <id> [-server <url> | -browse]")
		fmt.Fprintln(os.Stderr, "  Example: client -server ws://192.168.1.5:8080 -lobby 1 -user 42")
		os.Exit(1)
	}

	base := *server
	if *browse {
		chosen, ok, err := browseLAN(*discoveryPort)
		if err != nil {
			fmt.Fprintf(os.Stderr, "LAN browse failed: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			return
		}
		base = chosen.Addr
	}

	url := network.LobbyURL(base, match.LobbyID(*lobby), match.ParticipantID(*user))
	fmt.Printf("Connecting to %s...\n", url)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	client, err := network.Dial(ctx, url)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	model := ui.NewModel(client, match.LobbyID(*lobby))
	p := tea.NewProgram(model, tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}
	if m, ok := final.(ui.Model); ok && m.Err() != nil {
		fmt.Fprintf(os.Stderr, "%v\n", m.Err())
		os.Exit(1)
	}
}

// browseLAN shows the servers advertised on the network until the user picks
// one or quits.
func browseLAN(port int) (discovery.ServerInfo, bool, error) {
	listener := discovery.NewListener(port)
	if err := listener.Start(); err != nil {
		return discovery.ServerInfo{}, false, err
	}
	defer listener.Stop()

	final, err := tea.NewProgram(ui.NewBrowserModel(listener), tea.WithAltScreen()).Run()
	if err != nil {
		return discovery.ServerInfo{}, false, err
	}
	chosen, ok := final.(ui.BrowserModel).Chosen()
	return chosen, ok, nil
}
