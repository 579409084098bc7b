package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/irgordon/whisper/api/internal/config"
	"github.com/irgordon/whisper/api/internal/infrastructure/crypto"
)

const minJWTSecretLen = 32

func main() {
	fmt.Println("🔍 Whisper Relay: Running Security Posture Audit...")

	// 1. Load the current Environment
	if err := godotenv.Load(); err != nil {
		fmt.Println("⚠️  Warning: No .env file found, checking system env vars...")
	}

	// 2. The same parser the relay boots with
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Printf("❌ FAIL: configuration rejected: %v\n", err)
		fmt.Println("🚨 VERDICT: SECURITY POSTURE FAILED.")
		os.Exit(1)
	}

	hasErrors := false
	fail := func(format string, args ...any) {
		fmt.Printf("❌ FAIL: "+format+"\n", args...)
		hasErrors = true
	}

	// --- Audit Point 1: Production Guards ---
	if !cfg.IsProduction() {
		fail("WHISPER_ENV is %q; production guards are off.", cfg.Environment)
	} else {
		fmt.Println("✅ PASS: Running with production guards.")
	}

	// --- Audit Point 2: JWT Secret Strength ---
	if len(cfg.JWTSecret) < minJWTSecretLen {
		fail("JWT_SECRET is too short. Min: %d characters (Current: %d)", minJWTSecretLen, len(cfg.JWTSecret))
	} else {
		fmt.Println("✅ PASS: Burn token secret length is sufficient.")
	}

	// --- Audit Point 3: At-Rest Sealing ---
	if !cfg.SealingEnabled() {
		fmt.Println("⚠️  NOTICE: ENCRYPTION_KEY unset; blobs are stored exactly as clients sent them.")
	} else {
		fmt.Println("✅ PASS: Stored blobs are sealed under a 256-bit master key.")
	}

	// --- Audit Point 4: Storage Durability ---
	switch cfg.StoreBackend {
	case config.BackendMemory:
		fmt.Println("⚠️  NOTICE: memory store loses every pending secret on restart.")
	case config.BackendPostgres:
		if strings.Contains(cfg.DatabaseURL, "dev_password") {
			fail("DATABASE_URL is using default development credentials.")
		} else {
			fmt.Println("✅ PASS: Database URL does not use default credentials.")
		}
	case config.BackendRedis:
		if cfg.RedisPassword == "" {
			fail("REDIS_PASSWORD must be set for the redis store.")
		} else {
			fmt.Println("✅ PASS: Redis store requires authentication.")
		}
	default:
		fmt.Printf("✅ PASS: %s store configured.\n", cfg.StoreBackend)
	}

	// --- Audit Point 5: Browser Origins ---
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" || strings.HasPrefix(origin, "http://") {
			fail("CORS origin %q is not a pinned https origin.", origin)
		}
	}
	if !strings.HasPrefix(cfg.PublicURL, "https://") {
		fail("PUBLIC_URL %q must be https; locator keys travel in its fragment.", cfg.PublicURL)
	}

	// --- Audit Point 6: Client KDF Cost ---
	switch note, pass, err := kdfPosture(cfg.KDFIterations); {
	case err != nil:
		fail("KDF_ITERATIONS rejected by the cipher engine: %v", err)
	case pass:
		fmt.Println("✅ PASS: " + note)
	default:
		fmt.Println("⚠️  NOTICE: " + note)
	}

	// 3. Final Verdict
	fmt.Println("--------------------------------------------------")
	if hasErrors {
		fmt.Println("🚨 VERDICT: SECURITY POSTURE FAILED.")
		fmt.Println("Fix the errors above before attempting deployment.")
		os.Exit(1)
	}
	fmt.Println("🚀 VERDICT: SECURITY POSTURE VALIDATED. Relay is ready for launch.")
}

// kdfPosture checks the PBKDF2 cost this deployment expects clients to use.
// Iterations are not recorded in the blob, so a link only opens with the
// count it was created with.
func kdfPosture(iterations int) (string, bool, error) {
	if _, err := crypto.NewSecretCipher(iterations); err != nil {
		return "", false, err
	}
	if iterations != crypto.DefaultIterations {
		return fmt.Sprintf("KDF_ITERATIONS=%d differs from the CLI default %d; every whisper create and open must pass --kdf-iterations %d.",
			iterations, crypto.DefaultIterations, iterations), false, nil
	}
	return fmt.Sprintf("Clients derive keys with %d PBKDF2 iterations.", iterations), true, nil
}
