package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"mangasync/internal/config"
	"mangasync/internal/events"
	"mangasync/internal/session"
	"mangasync/internal/source"
	"mangasync/internal/store"
	syncengine "mangasync/internal/sync"
	"mangasync/internal/transport"
	"mangasync/internal/update"
	"mangasync/pkg/database"
)

// app bundles the wired engine so subcommand handlers stay small.
type app struct {
	store   *store.Store
	client  *transport.Client
	reg     *source.Registry
	session *session.Session
	sync    *syncengine.Engine
	update  *update.Engine
	hub     *events.Hub
}

func main() {
	global := flag.NewFlagSet("mangasync", flag.ExitOnError)
	baseURL := global.String("api", "", "remote API base URL (overrides config)")
	if err := global.Parse(os.Args[1:]); err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	args := global.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *baseURL != "" {
		cfg.Server.BaseURL = *baseURL
	}

	ctx := context.Background()
	a := wire(ctx, cfg)

	cmd := args[0]
	sub := ""
	if len(args) > 1 {
		sub = args[1]
	}

	switch cmd {
	case "auth":
		a.handleAuth(ctx, sub, args[2:])
	case "browse":
		a.handleBrowse(ctx, sub, args[2:])
	case "collection":
		a.handleCollection(ctx, sub, args[2:])
	case "history":
		a.handleHistory(ctx, sub)
	case "sync":
		if err := a.sync.Run(ctx); err != nil {
			log.Fatalf("sync failed: %v", err)
		}
		fmt.Println("✅ synced")
	case "update":
		a.handleUpdate(ctx)
	case "status":
		a.handleStatus()
	default:
		printUsage()
		os.Exit(1)
	}
}

func wire(ctx context.Context, cfg config.Config) *app {
	db := database.MustOpen(database.Config{Path: cfg.Database.Path})
	if err := database.Migrate(db); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	st := store.New(db)

	clientID, err := st.Settings.Get(ctx, store.KeyClientID)
	if err != nil {
		log.Fatalf("read client id: %v", err)
	}
	if clientID == "" {
		clientID = uuid.NewString()
		if err := st.Settings.Set(ctx, store.KeyClientID, clientID); err != nil {
			log.Fatalf("store client id: %v", err)
		}
	}

	client := transport.New(cfg.Server.BaseURL, clientID)
	reg := source.NewRegistry(client, st)
	client.SetDriverHook(reg.Discover)

	hub := events.NewHub()

	sess := session.New(client, st)
	client.SetTokenProvider(sess.Token)
	if err := sess.Load(ctx); err != nil {
		log.Fatalf("restore session: %v", err)
	}

	syncEng := syncengine.NewEngine(st, client, reg, hub, sess.Token)
	sess.SetSyncer(syncEng)

	return &app{
		store:   st,
		client:  client,
		reg:     reg,
		session: sess,
		sync:    syncEng,
		update:  update.NewEngine(st, reg, hub),
		hub:     hub,
	}
}

func (a *app) handleAuth(ctx context.Context, sub string, args []string) {
	switch sub {
	case "login":
		fs := flag.NewFlagSet("auth login", flag.ExitOnError)
		email := fs.String("email", "", "email address")
		password := fs.String("password", "", "password")
		_ = fs.Parse(args)
		if *email == "" || *password == "" {
			log.Fatal("email and password are required")
		}

		if err := a.session.Login(ctx, *email, *password); err != nil {
			log.Fatalf("login failed: %v", err)
		}
		fmt.Println("✅ logged in")
	case "register":
		fs := flag.NewFlagSet("auth register", flag.ExitOnError)
		email := fs.String("email", "", "email address")
		password := fs.String("password", "", "password")
		key := fs.String("key", "", "registration key")
		_ = fs.Parse(args)
		if *email == "" || *password == "" {
			log.Fatal("email and password are required")
		}

		if err := a.session.Create(ctx, *email, *password, *key); err != nil {
			log.Fatalf("register failed: %v", err)
		}
		fmt.Println("✅ registered, now login")
	case "logout":
		if err := a.session.Logout(ctx); err != nil {
			log.Fatalf("logout failed: %v", err)
		}
		fmt.Println("✅ logged out")
	case "passwd":
		fs := flag.NewFlagSet("auth passwd", flag.ExitOnError)
		oldPassword := fs.String("old", "", "current password")
		newPassword := fs.String("new", "", "new password")
		_ = fs.Parse(args)
		if *oldPassword == "" || *newPassword == "" {
			log.Fatal("old and new passwords are required")
		}

		if err := a.session.ChangePassword(ctx, *oldPassword, *newPassword); err != nil {
			log.Fatalf("password change failed: %v", err)
		}
		fmt.Println("✅ password changed")
	case "clear":
		fs := flag.NewFlagSet("auth clear", flag.ExitOnError)
		password := fs.String("password", "", "current password")
		_ = fs.Parse(args)
		if *password == "" {
			log.Fatal("password is required")
		}

		if err := a.session.ClearAccount(ctx, *password); err != nil {
			log.Fatalf("clear failed: %v", err)
		}
		fmt.Println("✅ account data cleared")
	default:
		log.Fatal("usage: mangasync auth <login|register|logout|passwd|clear>")
	}
}

func (a *app) handleBrowse(ctx context.Context, sub string, args []string) {
	switch sub {
	case "list":
		fs := flag.NewFlagSet("browse list", flag.ExitOnError)
		driver := fs.String("driver", "", "source identifier")
		category := fs.String("category", "", "category filter")
		page := fs.Int("page", 1, "page number")
		_ = fs.Parse(args)
		if *driver == "" {
			log.Fatal("driver is required")
		}

		drv := a.reg.Get(*driver)
		ok, err := drv.LoadList(ctx, *category, *page)
		if err != nil {
			log.Fatalf("list failed: %v", err)
		}
		if !ok {
			fmt.Println("no more pages")
			return
		}
		printJSON(drv.ListPage(*category, *page))
	case "search":
		fs := flag.NewFlagSet("browse search", flag.ExitOnError)
		driver := fs.String("driver", "", "source identifier")
		keyword := fs.String("q", "", "search keyword")
		page := fs.Int("page", 1, "page number")
		_ = fs.Parse(args)
		if *driver == "" || *keyword == "" {
			log.Fatal("driver and keyword are required")
		}

		drv := a.reg.Get(*driver)
		ok, err := drv.LoadSearch(ctx, *keyword, *page)
		if err != nil {
			log.Fatalf("search failed: %v", err)
		}
		if !ok {
			fmt.Println("no results")
			return
		}
		printJSON(drv.SearchPage(*keyword, *page))
	case "suggest":
		fs := flag.NewFlagSet("browse suggest", flag.ExitOnError)
		driver := fs.String("driver", "", "source identifier")
		keyword := fs.String("q", "", "keyword prefix")
		_ = fs.Parse(args)
		if *driver == "" {
			log.Fatal("driver is required")
		}

		out, err := a.reg.Get(*driver).Suggestions(ctx, *keyword)
		if err != nil {
			log.Fatalf("suggest failed: %v", err)
		}
		printJSON(out)
	case "show":
		fs := flag.NewFlagSet("browse show", flag.ExitOnError)
		driver := fs.String("driver", "", "source identifier")
		id := fs.String("id", "", "item id")
		_ = fs.Parse(args)
		if *driver == "" || *id == "" {
			log.Fatal("driver and id are required")
		}

		drv := a.reg.Get(*driver)
		if err := drv.Details(ctx, []string{*id}, true, true); err != nil {
			log.Fatalf("show failed: %v", err)
		}
		item, ok := drv.Full(*id)
		if !ok {
			log.Fatal("item not found")
		}
		printJSON(item)
	case "episode":
		fs := flag.NewFlagSet("browse episode", flag.ExitOnError)
		driver := fs.String("driver", "", "source identifier")
		id := fs.String("id", "", "item id")
		episode := fs.Int("episode", 0, "episode index")
		_ = fs.Parse(args)
		if *driver == "" || *id == "" {
			log.Fatal("driver and id are required")
		}

		urls, err := a.reg.Get(*driver).EpisodePages(ctx, *id, *episode)
		if err != nil {
			log.Fatalf("episode failed: %v", err)
		}
		printJSON(urls)
	default:
		log.Fatal("usage: mangasync browse <list|search|suggest|show|episode>")
	}
}

func (a *app) handleCollection(ctx context.Context, sub string, args []string) {
	switch sub {
	case "add":
		fs := flag.NewFlagSet("collection add", flag.ExitOnError)
		driver := fs.String("driver", "", "source identifier")
		id := fs.String("id", "", "item id")
		_ = fs.Parse(args)
		if *driver == "" || *id == "" {
			log.Fatal("driver and id are required")
		}

		if err := a.reg.Get(*driver).AddToCollection(ctx, *id); err != nil {
			log.Fatalf("add failed: %v", err)
		}
		fmt.Println("✅ added")
	case "remove":
		fs := flag.NewFlagSet("collection remove", flag.ExitOnError)
		driver := fs.String("driver", "", "source identifier")
		id := fs.String("id", "", "item id")
		_ = fs.Parse(args)
		if *driver == "" || *id == "" {
			log.Fatal("driver and id are required")
		}

		ok, err := a.reg.Get(*driver).RemoveFromCollection(ctx, *id)
		if err != nil {
			log.Fatalf("remove failed: %v", err)
		}
		if !ok {
			log.Fatal("not in collection")
		}
		fmt.Println("✅ removed")
	case "list":
		items, err := a.store.Collections.All(ctx)
		if err != nil {
			log.Fatalf("list failed: %v", err)
		}
		printJSON(items)
	default:
		log.Fatal("usage: mangasync collection <add|remove|list>")
	}
}

func (a *app) handleHistory(ctx context.Context, sub string) {
	switch sub {
	case "list", "":
		items, err := a.store.Histories.All(ctx)
		if err != nil {
			log.Fatalf("history failed: %v", err)
		}
		printJSON(items)
	default:
		log.Fatal("usage: mangasync history list")
	}
}

// handleUpdate runs a refresh and echoes the progress labels the engine
// publishes after every chunk.
func (a *app) handleUpdate(ctx context.Context) {
	ch, cancel := a.hub.Subscribe()
	defer cancel()

	go func() {
		for ev := range ch {
			if ev.Type == events.TypeUpdateProgress {
				log.Printf("[update] %s", ev.Message)
			}
		}
	}()

	if err := a.update.Run(ctx); err != nil {
		log.Fatalf("update failed: %v", err)
	}
	fmt.Println("✅ library refreshed")
}

func (a *app) handleStatus() {
	status := map[string]any{
		"logged_in": a.session.LoggedIn(),
		"email":     a.session.Email(),
		"version":   a.client.Version(),
		"drivers":   a.reg.Known(),
	}
	if exp, ok := a.session.Expiry(); ok {
		status["token_expires"] = exp.Format(time.RFC3339)
	}
	printJSON(status)
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("json: %v", err)
	}
	fmt.Println(string(b))
}

func printUsage() {
	fmt.Println("mangasync <command> [subcommand] [flags]")
	fmt.Println("commands:")
	fmt.Println("  auth login|register|logout|passwd|clear")
	fmt.Println("  browse list|search|suggest|show|episode")
	fmt.Println("  collection add|remove|list")
	fmt.Println("  history list")
	fmt.Println("  sync")
	fmt.Println("  update")
	fmt.Println("  status")
}
