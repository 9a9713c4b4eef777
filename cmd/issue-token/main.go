package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/stemsi/savetest-backend/internal/config"
	"github.com/stemsi/savetest-backend/internal/logger"
	"github.com/stemsi/savetest-backend/internal/service"
	"golang.org/x/term"
)

// issue-token signs a bearer token with the API's JWT secret, for operators
// and local testing. The platform issues tokens to real users.
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	reader := bufio.NewReader(os.Stdin)
	fmt.Fprintln(os.Stderr, "=== Issue SaveTest API Token ===")

	// User ID
	fmt.Fprint(os.Stderr, "Enter User ID: ")
	idStr, _ := reader.ReadString('\n')
	userID, err := strconv.Atoi(strings.TrimSpace(idStr))
	if err != nil || userID <= 0 {
		fmt.Fprintln(os.Stderr, "Error: User ID must be a positive number")
		os.Exit(1)
	}

	// Role
	fmt.Fprint(os.Stderr, "Enter Role [student|tutor|admin] (default student): ")
	roleStr, _ := reader.ReadString('\n')
	role := service.Role(strings.TrimSpace(roleStr))
	switch role {
	case "":
		role = service.RoleStudent
	case service.RoleStudent, service.RoleTutor, service.RoleAdmin:
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown role %q\n", role)
		os.Exit(1)
	}

	// Secret: prompt without echo when the environment does not provide one.
	if os.Getenv("JWT_SECRET") == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Enter JWT Secret: ")
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read secret")
		}
		if len(secret) == 0 {
			fmt.Fprintln(os.Stderr, "Error: secret is required")
			os.Exit(1)
		}
		cfg.JWTSecret = string(secret)
	}

	token, err := service.NewAuthService(cfg).GenerateToken(userID, role)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}

	log.Info().Int("user_id", userID).Str("role", string(role)).Dur("expires_in", cfg.JWTExpiry).Msg("Token issued")
	fmt.Println(token)
}
