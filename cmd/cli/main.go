package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/adapters/handler"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/adapters/repository"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/agent"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/config"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/services"
)

const usage = "expected one of: export, import, sweep, add-user, token, simulate"

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}
	cfg := config.Load()
	args := os.Args[2:]

	switch os.Args[1] {
	case "export":
		withBackend(cfg, func(b *repository.Backend) { doExport(cfg, b) })
	case "import":
		fs := flag.NewFlagSet("import", flag.ExitOnError)
		file := fs.String("file", "", "JSON file produced by export")
		fs.Parse(args)
		if *file == "" {
			fs.PrintDefaults()
			os.Exit(1)
		}
		withBackend(cfg, func(b *repository.Backend) { doImport(b, *file) })
	case "sweep":
		withBackend(cfg, func(b *repository.Backend) { doSweep(cfg, b) })
	case "add-user":
		fs := flag.NewFlagSet("add-user", flag.ExitOnError)
		u := &domain.User{}
		fs.StringVar(&u.ID, "id", "", "user id (defaults to the email)")
		fs.StringVar(&u.Email, "email", "", "email address")
		fs.StringVar(&u.Name, "name", "", "display name")
		fs.StringVar(&u.Role, "role", domain.RoleUser, "user or admin")
		password := fs.String("password", "", "password, stored as a bcrypt hash")
		fs.Parse(args)
		if u.Email == "" {
			fs.PrintDefaults()
			os.Exit(1)
		}
		withBackend(cfg, func(b *repository.Backend) { doAddUser(b, u, *password) })
	case "token":
		fs := flag.NewFlagSet("token", flag.ExitOnError)
		userID := fs.String("user", "", "user id to put in the userId claim")
		ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
		fs.Parse(args)
		if *userID == "" {
			fs.PrintDefaults()
			os.Exit(1)
		}
		doToken(cfg, *userID, *ttl)
	case "simulate":
		fs := flag.NewFlagSet("simulate", flag.ExitOnError)
		baseURL := fs.String("url", cfg.BaseURL, "server base URL")
		pages := fs.String("pages", "/,/projects,/about", "comma separated paths to visit")
		sessions := fs.Int("sessions", 3, "number of browsing sessions")
		clicks := fs.Int("clicks", 2, "clicks per page")
		token := fs.String("token", "", "auth token, visits as a signed-in user")
		fs.Parse(args)
		doSimulate(cfg, *baseURL, strings.Split(*pages, ","), *sessions, *clicks, *token)
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
}

func withBackend(cfg *config.Config, fn func(*repository.Backend)) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	backend, err := repository.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to db: %v", err)
	}
	defer backend.Close()
	fn(backend)
}

func doExport(cfg *config.Config, b *repository.Backend) {
	pages, err := services.NewAnalyticsService(b.Pages, b.Users, cfg.ActiveWindow).Export(context.Background())
	if err != nil {
		log.Fatalf("Export failed: %v", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(pages); err != nil {
		log.Fatalf("Encode failed: %v", err)
	}
}

// doImport adds the exported counters to the target store. Rows that already
// exist are incremented, not replaced.
func doImport(b *repository.Backend, filename string) {
	file, err := os.Open(filename)
	if err != nil {
		log.Fatalf("Failed to open file: %v", err)
	}
	defer file.Close()

	var pages []domain.PageStats
	if err := json.NewDecoder(file).Decode(&pages); err != nil {
		log.Fatalf("Decode failed: %v", err)
	}

	ctx := context.Background()
	count := 0
	for _, p := range pages {
		delta := domain.PageDelta{
			Page:       p.Page,
			Views:      p.TotalViews,
			Clicks:     p.TotalClicks,
			Registered: p.RegisteredUsers,
			Anonymous:  p.AnonymousUsers,
		}
		if delta.Page == "" || delta.Empty() {
			log.Printf("Skipping empty row: %q", p.Page)
			continue
		}
		at := p.LastUpdated
		if at.IsZero() {
			at = time.Now()
		}
		if err := b.Pages.ApplyEvent(ctx, delta, at); err != nil {
			log.Printf("Failed to import %s: %v", p.Page, err)
			continue
		}
		count++
	}
	log.Printf("Imported %d pages", count)
}

func doSweep(cfg *config.Config, b *repository.Backend) {
	tracking := services.NewTrackingService(b.Visits, b.Pages, cfg.DedupWindow)
	removed, err := tracking.Sweep(context.Background())
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}
	log.Printf("Removed %d expired visit records", removed)
}

func doAddUser(b *repository.Backend, u *domain.User, password string) {
	if u.ID == "" {
		u.ID = u.Email
	}
	if u.Role != domain.RoleAdmin && u.Role != domain.RoleUser {
		log.Fatalf("Unknown role %q", u.Role)
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("Hash failed: %v", err)
		}
		u.PasswordHash = string(hash)
	}
	u.IsActive = true
	u.Status = domain.StatusOffline
	u.CreatedAt = time.Now()

	if err := b.Users.SaveUser(context.Background(), u); err != nil {
		log.Fatalf("Save failed: %v", err)
	}
	log.Printf("Saved %s user %s", u.Role, u.ID)
}

func doToken(cfg *config.Config, userID string, ttl time.Duration) {
	token, err := handler.GenerateToken([]byte(cfg.JWTSecret), userID, ttl)
	if err != nil {
		log.Fatalf("Sign failed: %v", err)
	}
	fmt.Println(token)
}

// doSimulate drives the Go agent against a running server, one browsing
// session at a time.
func doSimulate(cfg *config.Config, baseURL string, pages []string, sessions, clicks int, token string) {
	endpoint := strings.TrimRight(baseURL, "/") + "/api/analytics/track"
	for i := 0; i < sessions; i++ {
		transport := agent.NewHTTPTransport(endpoint)
		transport.AuthCookie = cfg.AuthCookie
		transport.Token = token

		a := agent.New(agent.NewMemoryStorage(), transport)
		a.Start()
		for _, page := range pages {
			page = strings.TrimSpace(page)
			if page == "" {
				continue
			}
			a.Navigate(page)
			a.Wait()
			for c := 0; c < clicks; c++ {
				a.Click()
			}
		}
		a.VisibilityChange(true)
		a.PageHide()
		a.Wait()
		log.Printf("Session %s visited %d pages", a.SessionID(), len(pages))
	}
}
