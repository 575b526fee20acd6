package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/quartissimo/realtime/internal/conversation"
	"github.com/quartissimo/realtime/internal/events"
	"github.com/quartissimo/realtime/internal/models"
	"github.com/quartissimo/realtime/internal/notification"
	"github.com/quartissimo/realtime/internal/notifsync"
	"github.com/quartissimo/realtime/internal/presence"
	"github.com/quartissimo/realtime/internal/session"
	"go.uber.org/zap"
)

type Login struct {
	Token string `short:"t" long:"token" description:"bearer token; read from stdin when omitted"`
}

func (x *Login) Execute(args []string) error {
	token := strings.TrimSpace(x.Token)
	if token == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read token: %w", err)
		}
		token = strings.TrimSpace(line)
	}
	userID, err := session.UserIDFromToken(token)
	if err != nil {
		return err
	}

	cfg := loadConfig()
	if err := (session.FileTokenStore{Path: cfg.TokenFile}).Save(token); err != nil {
		return err
	}
	fmt.Printf("Logged in as user %d\n", userID)
	return nil
}

type Notifications struct {
	Watch bool `short:"w" long:"watch" description:"keep running and print the list whenever it changes"`
}

func (x *Notifications) Execute(args []string) error {
	env, err := newClientEnv()
	if err != nil {
		return err
	}
	defer env.logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	if !x.Watch {
		s := env.syncer(notifsync.Options{})
		if err := s.Fetch(ctx); err != nil {
			return err
		}
		printNotifications(s.Snapshot())
		return nil
	}

	s := env.syncer(notifsync.Options{OnChange: printNotifications})
	ch, err := env.dial(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	// a pushed message is a hint to re-read, the list itself comes from REST
	off := ch.On(events.ReceiveMessage, func(json.RawMessage) {
		notifsync.DelayedRefresh(ctx, s.Fetch, env.cfg.RefreshDelay, env.logger)
	})
	defer off()

	s.Run(ctx)
	return nil
}

type Read struct {
	ID  string `long:"id" description:"notification id, for example message-42"`
	All bool   `short:"a" long:"all" description:"mark every unread notification"`
}

func (x *Read) Execute(args []string) error {
	if (x.ID == "") == !x.All {
		return errors.New("pass exactly one of --id or --all")
	}
	env, err := newClientEnv()
	if err != nil {
		return err
	}
	defer env.logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	s := env.syncer(notifsync.Options{
		OnMutation: func(m notifsync.Mutation) {
			if m.State != notifsync.Pending {
				env.logger.Info("read flag settled", zap.String("notification", m.NotificationID), zap.Stringer("state", m.State))
			}
		},
	})
	if err := s.Fetch(ctx); err != nil {
		return err
	}

	if x.All {
		err = s.MarkAllAsRead(ctx)
	} else {
		err = s.MarkAsRead(ctx, x.ID)
	}
	s.Wait()
	fmt.Printf("%d unread\n", s.UnreadCount())
	return err
}

type Chat struct {
	Peer  uint `short:"p" long:"peer" description:"user id of the other participant"`
	Group uint `short:"g" long:"group" description:"group id"`
}

func (x *Chat) Execute(args []string) error {
	env, err := newClientEnv()
	if err != nil {
		return err
	}
	defer env.logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	ch, err := env.dial(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	tracker := presence.NewTracker(env.api, env.logger.Named("presence"))
	detach := tracker.Attach(ch)
	defer detach()

	me := env.session.UserID
	view, err := conversation.Open(ctx, me, env.api, ch, conversation.Target{PeerID: x.Peer, GroupID: x.Group}, conversation.Options{
		Logger:    env.logger.Named("conversation"),
		OnMessage: func(m models.Message) { printMessage(me, m) },
	})
	if err != nil {
		return err
	}
	defer view.Close()

	if x.Peer != 0 {
		tracker.FetchUserStatus(ctx, x.Peer)
		fmt.Printf("-- user %d is %s --\n", x.Peer, presenceLabel(tracker.IsOnline(x.Peer)))
	}
	for _, m := range view.Messages() {
		printMessage(me, m)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if _, err := view.Send(ctx, line); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
	}
}

type Status struct {
	User uint `short:"u" long:"user" required:"true" description:"user id to look up"`
}

func (x *Status) Execute(args []string) error {
	env, err := newClientEnv()
	if err != nil {
		return err
	}
	defer env.logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	tracker := presence.NewTracker(env.api, env.logger.Named("presence"))
	tracker.FetchUserStatus(ctx, x.User)
	fmt.Printf("user %d: %s\n", x.User, presenceLabel(tracker.IsOnline(x.User)))
	return nil
}

func presenceLabel(online bool) string {
	if online {
		return models.PresenceOnline
	}
	return models.PresenceOffline
}

func printNotifications(list []notification.Notification) {
	fmt.Printf("%d notifications, %d unread\n", len(list), notification.UnreadCount(list))
	for _, n := range list {
		mark := " "
		if !n.IsRead {
			mark = "*"
		}
		fmt.Printf("%s %-16s %s  %s\n", mark, n.ID, n.CreatedAt.Local().Format(time.DateTime), n.Title)
		if n.Message != "" {
			fmt.Printf("    %s\n", n.Message)
		}
	}
}

func printMessage(me uint, m models.Message) {
	who := m.Sender.DisplayName()
	if m.SenderUserID() == me {
		who = "me"
	} else if who == "" {
		who = fmt.Sprintf("user %d", m.SenderUserID())
	}
	fmt.Printf("[%s] %s: %s\n", m.DateSent.Local().Format(time.TimeOnly), who, m.Content)
}
