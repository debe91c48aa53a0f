package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vchat-dev/vchat/internal/account"
	"github.com/vchat-dev/vchat/internal/api"
	"github.com/vchat-dev/vchat/internal/auth"
	"github.com/vchat-dev/vchat/internal/bus"
	"github.com/vchat-dev/vchat/internal/config"
	"github.com/vchat-dev/vchat/internal/docstore"
	"github.com/vchat-dev/vchat/internal/faults"
	"github.com/vchat-dev/vchat/internal/lock"
	"github.com/vchat-dev/vchat/internal/model"
	"github.com/vchat-dev/vchat/internal/session"
	"github.com/vchat-dev/vchat/internal/status"
	intsync "github.com/vchat-dev/vchat/internal/sync"
)

// stack is the one-shot client: the same components the daemon wires with
// fx, assembled by hand for a single command.
type stack struct {
	cfg      *config.Config
	db       *docstore.DB
	auth     *auth.Local
	manager  *account.Manager
	engine   *intsync.Engine
	sessions *api.SessionService
	chats    *api.ChatService
	msgs     *api.MessageService
	lk       *lock.Lock
}

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	s, err := buildStack(sessionName)
	if err != nil {
		fail(err)
	}
	defer s.close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "signup":
		if len(args) != 4 {
			usageExit("vchatctl signup <name> <handle> <secret>")
		}
		cmdSignup(ctx, s, args[1], args[2], args[3])
	case "login":
		if len(args) != 3 {
			usageExit("vchatctl login <handle> <secret>")
		}
		cmdLogin(ctx, s, args[1], args[2])
	case "logout":
		cmdLogout(ctx, s)
	case "whoami":
		cmdWhoami(ctx, s, *jsonFlag)
	case "users":
		cmdUsers(ctx, s, *jsonFlag)
	case "chats":
		cmdChats(ctx, s, *jsonFlag)
	case "send":
		if len(args) < 3 {
			usageExit("vchatctl send <handle|chat-id> <text>")
		}
		cmdSend(ctx, s, args[1], strings.Join(args[2:], " "))
	case "watch":
		if len(args) != 2 {
			usageExit("vchatctl watch <chat-id>")
		}
		cmdWatch(s, args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: vchatctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  signup <name> <handle> <secret>   Create an account and sign in")
	fmt.Fprintln(os.Stderr, "  login <handle> <secret>           Sign in")
	fmt.Fprintln(os.Stderr, "  logout                            Sign out")
	fmt.Fprintln(os.Stderr, "  whoami                            Show the signed-in user")
	fmt.Fprintln(os.Stderr, "  users                             List known users")
	fmt.Fprintln(os.Stderr, "  chats                             List your chats")
	fmt.Fprintln(os.Stderr, "  send <handle|chat-id> <text>      Send a message")
	fmt.Fprintln(os.Stderr, "  watch <chat-id>                   Stream a chat's messages")
}

func usageExit(usage string) {
	fmt.Fprintln(os.Stderr, "usage: "+usage)
	os.Exit(1)
}

func fail(err error) {
	if f := faults.Classify(err); f.Kind != faults.Unknown {
		fmt.Fprintf(os.Stderr, "error: %s\n", f.Kind.Message())
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}

func buildStack(sessionName string) (*stack, error) {
	if err := session.EnsureDir(sessionName); err != nil {
		return nil, err
	}
	lk, err := lock.Acquire(session.LockPath(sessionName))
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		cfg = config.Default()
	}
	logger := zap.NewNop()

	b := bus.New()
	db, err := docstore.Open(session.StoreDBPath(sessionName), b, logger)
	if err != nil {
		_ = lk.Release()
		return nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = lk.Release()
		return nil, err
	}

	provider, err := auth.Open(session.AuthDBPath(sessionName), auth.Options{
		Disabled: cfg.AuthDisabled,
		TokenTTL: cfg.TokenTTL(),
	}, logger)
	if err != nil {
		_ = db.Close()
		_ = lk.Release()
		return nil, err
	}

	writer := intsync.NewWriter(db, logger)
	cache := intsync.NewCache()
	rec := intsync.NewReconciler(db, cache, writer)
	engine := intsync.NewEngine(db, b, cache, writer, rec, cfg.PageSize, logger)
	manager := account.NewManager(provider, db, writer, logger)
	machine := status.NewMachine(nil)
	status.Bind(machine, db)
	_ = machine.Transition(status.Online)

	return &stack{
		cfg:      cfg,
		db:       db,
		auth:     provider,
		manager:  manager,
		engine:   engine,
		sessions: api.NewSessionService(manager, machine),
		chats:    api.NewChatService(engine, manager),
		msgs:     api.NewMessageService(engine, manager),
		lk:       lk,
	}, nil
}

func (s *stack) close() {
	s.engine.Close()
	s.manager.Close()
	_ = s.auth.Close()
	_ = s.db.Close()
	_ = s.lk.Release()
}

// flush commits journaled writes before the process exits; a one-shot
// command has no background commit loop to do it.
func (s *stack) flush(ctx context.Context) {
	if _, err := s.db.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: sync incomplete: %v\n", err)
	}
}

func cmdSignup(ctx context.Context, s *stack, name, handle, secret string) {
	user, err := s.sessions.Signup(ctx, name, handle, secret)
	if err != nil {
		if user == nil {
			fail(err)
		}
		fmt.Fprintf(os.Stderr, "warning: %s\n", faults.Classify(err).Kind.Message())
	}
	s.flush(ctx)
	fmt.Printf("Signed up as %s (%s)\n", user.Name, user.Handle)
}

func cmdLogin(ctx context.Context, s *stack, handle, secret string) {
	user, err := s.sessions.Login(ctx, handle, secret)
	if err != nil {
		fail(err)
	}
	s.flush(ctx)
	fmt.Printf("Logged in as %s (%s)\n", user.Name, user.Handle)
}

func cmdLogout(ctx context.Context, s *stack) {
	if _, err := s.manager.Restore(ctx); err != nil {
		fail(err)
	}
	if err := s.sessions.Logout(ctx); err != nil {
		fail(err)
	}
	s.flush(ctx)
	fmt.Println("Logged out")
}

func cmdWhoami(ctx context.Context, s *stack, jsonOut bool) {
	if _, err := s.manager.Restore(ctx); err != nil {
		fail(err)
	}
	state, user := s.sessions.Status()
	if user == nil {
		fmt.Println("Not logged in")
		return
	}
	s.flush(ctx)
	if jsonOut {
		outputJSON(user)
		return
	}
	fmt.Printf("Name:   %s\n", user.Name)
	fmt.Printf("Handle: %s\n", user.Handle)
	fmt.Printf("Status: %s\n", user.Status)
	fmt.Printf("State:  %s\n", state)
}

func cmdUsers(ctx context.Context, s *stack, jsonOut bool) {
	snap, err := s.db.GetAll(ctx, docstore.Query{
		Collection: model.UsersCollection,
		OrderBy:    "name",
		Limit:      s.cfg.PageSize,
	})
	if err != nil {
		fail(err)
	}
	users := make([]model.User, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		users = append(users, model.UserFromDoc(doc))
	}
	if jsonOut {
		outputJSON(users)
		return
	}
	for _, u := range users {
		marker := " "
		if u.Online {
			marker = "*"
		}
		fmt.Printf("%s %-20s %s\n", marker, u.Name, u.Handle)
	}
}

func cmdChats(ctx context.Context, s *stack, jsonOut bool) {
	user := requireSession(ctx, s)
	snap, err := s.db.GetAll(ctx, docstore.Query{
		Collection:    model.ChatsCollection,
		ArrayContains: &docstore.FieldFilter{Field: "participants", Value: user.ID},
		OrderBy:       "lastMessageTime",
		Descending:    true,
	})
	if err != nil {
		fail(err)
	}
	chats := make([]model.Chat, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		chats = append(chats, model.ChatFromDoc(doc))
	}
	if jsonOut {
		outputJSON(chats)
		return
	}
	for _, c := range chats {
		name := c.Name
		if !c.IsGroup {
			name = "direct:" + c.OtherParticipant(user.ID)
		}
		fmt.Printf("%-36s %-24s %s\n", c.ID, name, c.LastMessage)
	}
}

func cmdSend(ctx context.Context, s *stack, target, text string) {
	requireSession(ctx, s)

	chatID := target
	if strings.Contains(target, "@") {
		peer, err := findUserByHandle(ctx, s, target)
		if err != nil {
			fail(err)
		}
		chat, err := s.chats.StartDirectChat(ctx, peer.ID)
		if err != nil {
			fail(err)
		}
		chatID = chat.ID
	}

	if err := s.msgs.Send(ctx, chatID, text); err != nil {
		fail(err)
	}
	s.flush(ctx)
	fmt.Println("Sent")
}

func cmdWatch(s *stack, chatID string) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	requireSession(ctx, s)

	s.db.StartCommitLoop(ctx, s.cfg.FlushInterval())
	defer s.db.StopCommitLoop()

	seen := make(map[string]bool)
	unsub := s.db.Subscribe(docstore.Query{
		Collection: model.MessagesCollection(chatID),
		OrderBy:    "timestamp",
	}, func(snap docstore.Snapshot) {
		for _, doc := range snap.Docs {
			if seen[doc.ID] {
				continue
			}
			seen[doc.ID] = true
			msg := model.MessageFromDoc(chatID, doc)
			ts := time.UnixMilli(msg.Timestamp).Format("15:04:05")
			fmt.Printf("[%s] %s: %s\n", ts, msg.SenderID, msg.Text)
		}
	}, func(err error) {
		fmt.Fprintf(os.Stderr, "error: feed terminated: %v\n", err)
		cancel()
	})
	defer unsub()

	<-ctx.Done()
}

func requireSession(ctx context.Context, s *stack) *model.User {
	user, err := s.manager.Restore(ctx)
	if err != nil {
		fail(err)
	}
	if user == nil {
		fmt.Fprintln(os.Stderr, "error: not logged in")
		os.Exit(1)
	}
	return user
}

func findUserByHandle(ctx context.Context, s *stack, handle string) (model.User, error) {
	snap, err := s.db.GetAll(ctx, docstore.Query{
		Collection:  model.UsersCollection,
		FieldEquals: &docstore.FieldFilter{Field: "handle", Value: strings.ToLower(handle)},
		Limit:       1,
	})
	if err != nil {
		return model.User{}, err
	}
	if len(snap.Docs) == 0 {
		return model.User{}, faults.Newf(faults.ProfileMissing, "no user with handle %q", handle)
	}
	return model.UserFromDoc(snap.Docs[0]), nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
