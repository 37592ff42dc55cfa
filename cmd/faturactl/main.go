package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"fatura2parasut-go/internal/auth"
	"fatura2parasut-go/internal/config"
	"fatura2parasut-go/internal/events"
	"fatura2parasut-go/internal/fatura"
	"fatura2parasut-go/internal/logging"
	"fatura2parasut-go/internal/storage"
	"fatura2parasut-go/internal/tracing"
	"fatura2parasut-go/internal/transport"
)

const usage = `usage: faturactl [-config path] <command> [args]

commands:
  register  -email -password [-name] [-company]   create an account
  login     -email -password                      sign in and store tokens
  me                                              show the signed-in profile
  logout                                          discard stored tokens
  upload    <file> [-wait]                        upload an invoice document
  list      [-status] [-since] [-until] [-cursor] [-limit]
  show      <invoice-id>                          print one invoice
  set       <invoice-id> <corrections-json>       merge manual corrections
  rm        <invoice-id>                          delete an invoice
  export    <invoice-id>                          export to Parasut
  watch     <invoice-id>                          poll until processing ends
`

type app struct {
	cfg     *config.Config
	manager *config.Manager
	hub     *events.Hub
	backend storage.Backend
	store   *auth.Store
	api     *fatura.Client
}

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, cleanup, err := bootstrap(ctx, *configPath)
	if err != nil {
		fail(err)
	}
	defer cleanup()

	if err := a.run(ctx, args[0], args[1:]); err != nil {
		fail(err)
	}
}

func bootstrap(ctx context.Context, configPath string) (*app, func(), error) {
	manager, err := config.NewManager(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	cfg := manager.GetConfig()

	if err := logging.Setup(cfg); err != nil {
		return nil, nil, fmt.Errorf("configure logging: %w", err)
	}

	shutdownTracing, err := tracing.Init(ctx)
	if err != nil {
		log.WithError(err).Warn("Tracing disabled")
		shutdownTracing = func(context.Context) error { return nil }
	}

	hub := events.NewHub()
	manager.SetEventPublisher(hub)
	subscribeNotices(hub)

	backend, err := buildStorageBackend(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open credential storage: %w", err)
	}

	store := auth.NewStore(backend, hub)
	if err := store.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("load stored credentials: %w", err)
	}

	pipe := transport.New(cfg, store, auth.NewCoordinator(
		auth.NewRefresher(cfg.APIBaseURL, pipelineHTTPClient(cfg), store, hub),
	), hub)

	a := &app{
		cfg:     cfg,
		manager: manager,
		hub:     hub,
		backend: backend,
		store:   store,
		api:     fatura.New(cfg, pipe, store),
	}
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.WithError(err).Debug("Tracer shutdown failed")
		}
		backend.Close()
		manager.Close()
	}
	return a, cleanup, nil
}

// subscribeNotices surfaces pipeline events as user-facing messages on
// stderr, independent of the structured log stream.
func subscribeNotices(hub *events.Hub) {
	hub.Subscribe(events.TopicNetworkError, func(ctx context.Context, e events.Event) {
		fmt.Fprintln(os.Stderr, "faturactl: backend unreachable, check your connection")
	})
	hub.Subscribe(events.TopicServerError, func(ctx context.Context, e events.Event) {
		fmt.Fprintln(os.Stderr, "faturactl: backend error, try again later")
	})
	hub.Subscribe(events.TopicSignedOut, func(ctx context.Context, e events.Event) {
		fmt.Fprintln(os.Stderr, "faturactl: session expired, run 'faturactl login'")
	})
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "register":
		return a.cmdRegister(ctx, args)
	case "login":
		return a.cmdLogin(ctx, args)
	case "me":
		return a.cmdMe(ctx)
	case "logout":
		return a.api.Logout(ctx)
	case "upload":
		return a.cmdUpload(ctx, args)
	case "list":
		return a.cmdList(ctx, args)
	case "show":
		return a.cmdShow(ctx, args)
	case "set":
		return a.cmdSet(ctx, args)
	case "rm":
		return a.cmdDelete(ctx, args)
	case "export":
		return a.cmdExport(ctx, args)
	case "watch":
		return a.cmdWatch(ctx, args)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) cmdRegister(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	name := fs.String("name", "", "full name")
	company := fs.String("company", "", "company name")
	fs.Parse(args)

	if *email == "" || *password == "" {
		return fmt.Errorf("register requires -email and -password")
	}
	user, err := a.api.Register(ctx, fatura.RegisterRequest{
		Email:       *email,
		Password:    *password,
		FullName:    *name,
		CompanyName: *company,
		KVKKConsent: true,
	})
	if err != nil {
		return err
	}
	fmt.Printf("registered %s (plan: %s)\n", user.Email, user.SubscriptionPlan)
	return nil
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	fs.Parse(args)

	if *email == "" || *password == "" {
		return fmt.Errorf("login requires -email and -password")
	}
	grant, err := a.api.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Printf("signed in, access token valid for %ds\n", grant.ExpiresIn)
	return nil
}

func (a *app) cmdMe(ctx context.Context) error {
	user, err := a.api.Me(ctx)
	if err != nil {
		return err
	}
	return printJSON(user)
}

func (a *app) cmdUpload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	wait := fs.Bool("wait", false, "poll until processing finishes")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("upload requires exactly one file argument")
	}
	path := fs.Arg(0)
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}

	inv, err := a.api.Upload(ctx, filepath.Base(path), content, mimeType)
	if err != nil {
		return err
	}
	fmt.Printf("uploaded %s as invoice %s\n", filepath.Base(path), inv.ID)

	if *wait {
		return a.waitAndPrint(ctx, inv.ID)
	}
	return nil
}

func (a *app) cmdList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	status := fs.String("status", "", "filter by status (uploaded|processing|completed|failed|exported)")
	since := fs.String("since", "", "start date, RFC 3339 or YYYY-MM-DD")
	until := fs.String("until", "", "end date, RFC 3339 or YYYY-MM-DD")
	cursor := fs.String("cursor", "", "pagination cursor from a previous page")
	limit := fs.Int("limit", 20, "page size (1..100)")
	fs.Parse(args)

	opts := fatura.ListOptions{
		Status: fatura.Status(*status),
		Cursor: *cursor,
		Limit:  *limit,
	}
	if *since != "" {
		ts, err := parseDate(*since)
		if err != nil {
			return fmt.Errorf("invalid -since: %w", err)
		}
		opts.StartDate = &ts
	}
	if *until != "" {
		ts, err := parseDate(*until)
		if err != nil {
			return fmt.Errorf("invalid -until: %w", err)
		}
		opts.EndDate = &ts
	}

	list, err := a.api.List(ctx, opts)
	if err != nil {
		return err
	}
	for _, inv := range list.Items {
		check := " "
		if a.api.Validated(&inv) {
			check = "✓"
		}
		fmt.Printf("%s  %-10s %s %s\n", inv.ID, inv.Status, check, inv.OriginalFilename)
	}
	fmt.Printf("%d of %d invoices", len(list.Items), list.Total)
	if list.HasNext {
		fmt.Printf(", next: -cursor %s", list.NextCursor)
	}
	fmt.Println()
	return nil
}

func (a *app) cmdShow(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("show requires an invoice id")
	}
	inv, err := a.api.Get(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(inv)
}

func (a *app) cmdSet(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("set requires an invoice id and a corrections JSON document")
	}
	if !json.Valid([]byte(args[1])) {
		return fmt.Errorf("corrections must be a valid JSON object")
	}
	inv, err := a.api.CorrectExtracted(ctx, args[0], json.RawMessage(args[1]))
	if err != nil {
		return err
	}
	return printJSON(inv)
}

func (a *app) cmdDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("rm requires an invoice id")
	}
	if err := a.api.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}

func (a *app) cmdExport(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("export requires an invoice id")
	}
	result, err := a.api.Export(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("exported to Parasut as %s\n", result.ParasutID)
	if result.ParasutURL != "" {
		fmt.Println(result.ParasutURL)
	}
	return nil
}

func (a *app) cmdWatch(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("watch requires an invoice id")
	}
	return a.waitAndPrint(ctx, args[0])
}

func (a *app) waitAndPrint(ctx context.Context, id string) error {
	fmt.Printf("waiting for %s...\n", id)
	inv, err := a.api.WaitForProcessing(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("invoice %s: %s\n", inv.ID, inv.Status)
	if inv.Status == fatura.StatusFailed && inv.ErrorMessage != "" {
		fmt.Println(inv.ErrorMessage)
	}
	if len(inv.ExtractedData) > 0 {
		return printJSON(json.RawMessage(inv.ExtractedData))
	}
	return nil
}

func buildStorageBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "redis":
		rb, err := storage.NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		if err := rb.Initialize(ctx); err != nil {
			return nil, err
		}
		return rb, nil
	default:
		fb := storage.NewFileBackend(expandPath(cfg.StorageBaseDir))
		if err := fb.Initialize(ctx); err != nil {
			return nil, err
		}
		return fb, nil
	}
}

func pipelineHTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second}
}

func parseDate(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", s)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "faturactl:", err)
	os.Exit(1)
}
