package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/victorgomez09/jobguard/internal/auth/audit"
	"github.com/victorgomez09/jobguard/internal/auth/database"
	"github.com/victorgomez09/jobguard/internal/auth/models"
	"github.com/victorgomez09/jobguard/internal/auth/password"
	"github.com/victorgomez09/jobguard/internal/auth/ratelimit"
	"github.com/victorgomez09/jobguard/internal/auth/service"
	"github.com/victorgomez09/jobguard/internal/auth/token"
	"github.com/victorgomez09/jobguard/internal/auth/validation"
	"github.com/victorgomez09/jobguard/internal/config"
	"github.com/victorgomez09/jobguard/internal/store"
)

const cliAddress = "cli"

func main() {
	var (
		email      = flag.String("email", "", "Email of the new user")
		pass       = flag.String("password", "", "Password for the new user")
		role       = flag.String("role", string(models.RoleUser), "Role for the new user (admin or user)")
		first      = flag.String("first-name", "", "First name of the new user")
		last       = flag.String("last-name", "", "Last name of the new user")
		listUsers  = flag.Bool("list", false, "List all users")
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	// the secret key is not needed here, tokens are never issued
	cfg.ApplyDefaults()

	db, err := database.NewSQLiteDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	// Handle list users command
	if *listUsers {
		if err := listAllUsers(ctx, db); err != nil {
			log.Fatalf("Failed to list users: %v", err)
		}
		return
	}

	// Validate inputs for user creation
	if *email == "" || *pass == "" {
		flag.Usage()
		os.Exit(1)
	}

	userRole := models.Role(*role)
	if !userRole.Valid() {
		log.Fatalf("Invalid role. Must be '%s' or '%s'", models.RoleAdmin, models.RoleUser)
	}

	sm, auditor, err := newSecurityManager(cfg, db)
	if err != nil {
		log.Fatalf("Failed to initialize security manager: %v", err)
	}

	user, err := sm.CreateUser(ctx, service.RegisterInput{
		Email:     service.NormalizeEmail(*email),
		Password:  *pass,
		FirstName: *first,
		LastName:  *last,
	}, userRole, cliAddress)
	// flush the user_registered event to the database
	_ = auditor.Close(ctx)
	if err != nil {
		log.Fatalf("Failed to create user: %v", err)
	}

	fmt.Printf("Successfully created user '%s' (%s) with role '%s'\n", user.Email, user.ID, user.Role)
}

// newSecurityManager builds a manager over the database with in-process
// session state; the password policy matches the server's.
func newSecurityManager(cfg *config.Config, db *database.SQLiteDB) (*service.SecurityManager, *audit.Auditor, error) {
	tokens, err := token.NewManager(token.Config{
		Secret: []byte(uuid.NewString()),
	}, store.NewMemorySessions(nil), store.NewMemoryBlacklist(nil), nil, nil)
	if err != nil {
		return nil, nil, err
	}
	limiter := ratelimit.New(ratelimit.Config{}, store.NewMemoryRateLimits(nil), nil, nil)
	auditor := audit.New(audit.Config{}, []store.AuditStore{db}, nil, zap.NewNop(), nil)

	iterations := cfg.Auth.HashIterations
	if iterations == 0 {
		iterations = password.DefaultIterations
	}
	policy := validation.DefaultPasswordPolicy(cfg.Auth.PasswordMinLength)
	policy.PreventSequential = cfg.Auth.PreventSequential

	sm, err := service.NewSecurityManager(service.Config{
		PasswordPolicy:  policy,
		PasswordHistory: cfg.Auth.PasswordHistory,
	}, db, password.NewHasher(iterations), tokens, limiter, auditor, nil, nil)
	if err != nil {
		auditor.Close(context.Background())
		return nil, nil, err
	}
	return sm, auditor, nil
}

func listAllUsers(ctx context.Context, db *database.SQLiteDB) error {
	users, err := db.ListUsers(ctx, 1000, 0)
	if err != nil {
		return err
	}

	if len(users) == 0 {
		fmt.Println("No users found in database")
		return nil
	}

	fmt.Println("\nUser List:")
	fmt.Println("--------------------------------------------------------------------------------------------")
	fmt.Printf("%-36s %-30s %-6s %-7s %-20s\n", "ID", "Email", "Role", "Active", "Created At")
	fmt.Println("--------------------------------------------------------------------------------------------")

	for _, user := range users {
		fmt.Printf("%-36s %-30s %-6s %-7t %-20s\n",
			user.ID,
			user.Email,
			user.Role,
			user.Active,
			user.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	fmt.Println("--------------------------------------------------------------------------------------------")
	return nil
}
