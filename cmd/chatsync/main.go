package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kapernikxd/aipair-chatsync/internal/config"
	"github.com/kapernikxd/aipair-chatsync/internal/connection"
	"github.com/kapernikxd/aipair-chatsync/internal/conversation"
	"github.com/kapernikxd/aipair-chatsync/internal/logger"
	"github.com/kapernikxd/aipair-chatsync/internal/presence"
	"github.com/kapernikxd/aipair-chatsync/internal/rest"
	"github.com/kapernikxd/aipair-chatsync/internal/transport"
)

type stdoutNotifier struct{}

func (stdoutNotifier) Notify(text string) {
	fmt.Println("! " + text)
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	chatID := flag.String("chat", "", "chat to open on start")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	lg, err := logger.New(logger.Config{Development: cfg.Development, Name: "chatsync"})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	api := rest.NewClient(rest.ClientConfig{
		BaseURL:         cfg.API.BaseURL,
		AuthToken:       cfg.AuthToken,
		Timeout:         cfg.APITimeout,
		RetryMaxElapsed: cfg.RetryMaxElapsed,
		MaxIdleConns:    10,
		IdleConnTimeout: time.Minute,
	}, lg)

	sess := transport.NewSession(transport.Options{
		URL:              cfg.Socket.URL,
		UserID:           cfg.UserID,
		AuthToken:        cfg.AuthToken,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, lg)
	tracker := presence.NewTracker(lg)
	mgr := connection.NewManager(sess, cfg.UserID, tracker, lg)
	store := conversation.NewStore(mgr, api, tracker, conversation.Options{
		UserID:          cfg.UserID,
		UserName:        cfg.UserName,
		PinLimit:        cfg.Chat.PinLimit,
		TypingPerSecond: cfg.Chat.TypingPerSecond,
		Notifier:        stdoutNotifier{},
	}, lg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mgr.Connect(ctx); err != nil {
		lg.Warnw("initial connect interrupted", "err", err)
	}
	cancel()

	if chats, err := api.ListChats(context.Background(), 1, 20, ""); err != nil {
		lg.Warnw("chat list fetch failed", "err", err)
	} else {
		store.ChatList().SetChats(chats)
		for _, c := range chats {
			fmt.Printf("%s  unread=%d\n", c.ID, c.UnreadCount)
		}
	}

	if *chatID != "" {
		sub, err := store.SubscribeToChat(context.Background(), *chatID)
		if err != nil {
			lg.Warnw("subscribe interrupted", "chat", *chatID, "err", err)
		}
		if sub != nil {
			defer sub.Close()
		}
		if err := store.FetchMessages(context.Background(), *chatID, 0); err == nil {
			for _, m := range store.Messages() {
				fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format(time.Kitchen), m.SenderID, m.Content)
			}
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	lg.Infow("signal received", "signal", s)

	mgr.Disconnect()
}
