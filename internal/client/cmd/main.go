// Terminal demo for the pairing client: acquires an anonymous session,
// connects, and chats from stdin. Lines starting with /skip request a skip.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/JoshuaDupras/knock-knock/internal/config"
	"github.com/JoshuaDupras/knock-knock/internal/pairing"
	"github.com/JoshuaDupras/knock-knock/internal/session"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("KNOCK_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	acquirer := session.NewAcquirer(cfg.Client.BaseURL, 30*time.Second, logger)
	client, err := pairing.NewClient(pairing.Config{
		Acquirer:    acquirer,
		DisplayName: cfg.Client.DisplayName,
		OnState:     printState,
		Logger:      logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := client.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	defer client.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "/skip" {
			client.RequestSkip()
			continue
		}
		client.SendChat(line)
	}
}

var (
	lastPhase    pairing.Phase
	lastMsgCount int
)

func printState(s pairing.State) {
	switch s.Phase {
	case pairing.PhasePaired:
		if lastPhase != pairing.PhasePaired {
			fmt.Printf("\n-- paired! conversation %s --\n", s.Conversation.ID)
			lastMsgCount = 0
		}
		for ; lastMsgCount < len(s.Messages); lastMsgCount++ {
			msg := s.Messages[lastMsgCount]
			if msg.Sender != pairing.SenderSelf {
				fmt.Printf("[%3ds] partner: %s\n", int(s.Remaining.Seconds()), msg.Text)
			}
		}
	default:
		if lastPhase == pairing.PhasePaired || lastPhase == "" {
			fmt.Printf("\n-- %s --\n", s.WaitingText)
		}
	}
	lastPhase = s.Phase
}
