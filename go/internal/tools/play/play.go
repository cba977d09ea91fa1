package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsweeper/go/internal/client"
	"github.com/mcdev12/coopsweeper/go/internal/models"
	"github.com/mcdev12/coopsweeper/go/internal/session"
)

// play is a plain-text client: it prints the shared board after every change
// and reads "r <row> <col>" commands from stdin.
func main() {
	_ = godotenv.Load()

	apiURL := flag.String("api", getEnv("API_URL", "http://localhost:8080"), "games API base URL")
	gatewayURL := flag.String("gateway", getEnv("GATEWAY_URL", "ws://localhost:8081"), "websocket gateway base URL")
	gameID := flag.String("game", "", "game id to join; empty creates a new game")
	difficulty := flag.String("difficulty", "easy", "difficulty for a new game")
	local := flag.Bool("local", false, "play against an in-process channel instead of the servers")
	rebase := flag.Bool("rebase", false, "replay reveals on version conflicts instead of last-write-wins")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, options{
		apiURL:     *apiURL,
		gatewayURL: *gatewayURL,
		gameID:     *gameID,
		difficulty: *difficulty,
		local:      *local,
		rebase:     *rebase,
	}, os.Stdin, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("play failed")
	}
}

type options struct {
	apiURL     string
	gatewayURL string
	gameID     string
	difficulty string
	local      bool
	rebase     bool
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	channel, gameID, playerID, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	var ctrlOpts []session.ControllerOption
	if opts.rebase {
		ctrlOpts = append(ctrlOpts, session.WithConflictPolicy(session.Rebase))
	}
	ctrl := session.NewController(gameID, playerID, channel, ctrlOpts...)
	ctrl.OnChange(func(v session.View) { fmt.Fprint(out, render(v)) })
	defer ctrl.Close()
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start game %s: %w", gameID, err)
	}

	fmt.Fprintf(out, "game %s, you are %s\ncommands: r <row> <col>, q\n", gameID, playerID)
	return readCommands(ctx, ctrl, in, out)
}

func connect(ctx context.Context, opts options) (session.Channel, string, models.PlayerID, error) {
	if opts.local {
		ch := session.NewMemoryChannel()
		d, err := findPreset(models.DefaultDifficulties, opts.difficulty)
		if err != nil {
			return nil, "", "", err
		}
		id, err := ch.Create(ctx, d.Rows, d.Cols, d.Mines)
		if err != nil {
			return nil, "", "", err
		}
		return ch, id, "player_local1", nil
	}

	path, err := client.DefaultIdentityPath()
	if err != nil {
		return nil, "", "", err
	}
	identities := client.NewIdentityStore(path)
	api := client.NewClient(opts.apiURL, client.WithGatewayURL(opts.gatewayURL))

	gameID := opts.gameID
	if gameID == "" {
		game, err := api.CreateDifficulty(ctx, opts.difficulty)
		if err != nil {
			return nil, "", "", err
		}
		gameID = game.ID
	} else if _, err := api.Join(ctx, gameID); err != nil {
		return nil, "", "", err
	}

	playerID, err := identities.GetOrCreatePlayerID(gameID)
	if err != nil {
		return nil, "", "", err
	}
	return client.NewClient(opts.apiURL, client.WithGatewayURL(opts.gatewayURL), client.WithPlayerID(playerID)), gameID, playerID, nil
}

func findPreset(presets []models.Difficulty, name string) (models.Difficulty, error) {
	for _, d := range presets {
		if strings.EqualFold(d.Name, name) {
			return d, nil
		}
	}
	return models.Difficulty{}, fmt.Errorf("%w: %q", models.ErrUnknownDifficulty, name)
}

var errQuit = errors.New("quit")

func readCommands(ctx context.Context, ctrl *session.Controller, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		row, col, err := parseCommand(scanner.Text())
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Fprintln(out, err)
			continue
		}

		committed, err := ctrl.Reveal(ctx, row, col)
		if err != nil {
			fmt.Fprintf(out, "reveal failed: %v\n", err)
			continue
		}
		if !committed {
			fmt.Fprintln(out, "nothing to reveal there")
		}
	}
	return scanner.Err()
}

// parseCommand accepts "r <row> <col>" (or just "<row> <col>") and "q".
func parseCommand(line string) (int, int, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 1 && (fields[0] == "q" || fields[0] == "quit") {
		return 0, 0, errQuit
	}
	if len(fields) == 3 && (fields[0] == "r" || fields[0] == "reveal") {
		fields = fields[1:]
	}
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("usage: r <row> <col>")
	}
	row, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad row %q", fields[0])
	}
	col, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad col %q", fields[1])
	}
	return row, col, nil
}

func render(v session.View) string {
	var sb strings.Builder
	if v.Err != nil {
		fmt.Fprintf(&sb, "error: %v\n", v.Err)
	}
	if v.Snapshot == nil {
		fmt.Fprintf(&sb, "[%s]\n", v.State)
		return sb.String()
	}

	fmt.Fprintf(&sb, "\n[%s] version %d\n", v.State, v.Snapshot.Version)
	sb.WriteString(v.Snapshot.Board.String())

	players := make([]string, 0, len(v.Snapshot.PlayerScores))
	for p := range v.Snapshot.PlayerScores {
		players = append(players, string(p))
	}
	sort.Strings(players)
	for _, p := range players {
		marker := " "
		if models.PlayerID(p) == v.PlayerID {
			marker = "*"
		}
		fmt.Fprintf(&sb, "%s %s: %d\n", marker, p, v.Snapshot.PlayerScores[models.PlayerID(p)])
	}
	return sb.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
