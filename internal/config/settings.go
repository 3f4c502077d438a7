package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/gpresearch2025/ai-voice-agent/internal/models"
)

// ErrConfigInvalid marks malformed configuration values
var ErrConfigInvalid = errors.New("invalid configuration")

// PlaceholderNumber is the sample destination shipped in .env.example; it counts as unset
const PlaceholderNumber = "+1234567890"

// Settings is the full runtime configuration
type Settings struct {
	Environment              string
	Port                     string
	DatabaseURL              string
	UseMemoryStore           bool
	DisableWebhookValidation bool

	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string
	PublicBaseURL     string
	VoiceName         string

	CompanyName string
	Hours       BusinessHours
	Sales       Destination
	Support     Destination

	GeneratorProvider     string
	GroqAPIKey            string
	GroqModel             string
	GeminiAPIKey          string
	GeminiModel           string
	GenerationMaxTokens   int
	GenerationTemperature float64
	GenerationTimeout     time.Duration
	HandlerDeadline       time.Duration

	ReaperInterval time.Duration
	ReaperMaxAge   time.Duration
}

// Destination is a department's transfer target
type Destination struct {
	Number      string
	ContactName string
}

// Configured reports whether the destination can be dialed
func (d Destination) Configured() bool {
	n := strings.TrimSpace(d.Number)
	return n != "" && n != PlaceholderNumber
}

// Destination returns the target for dept
func (s Settings) Destination(dept models.Department) Destination {
	switch dept {
	case models.DepartmentSales:
		return s.Sales
	case models.DepartmentSupport:
		return s.Support
	}
	return Destination{}
}

// ContactName returns the spoken name for dept, falling back to the department itself
func (s Settings) ContactName(dept models.Department) string {
	if name := s.Destination(dept).ContactName; name != "" {
		return name
	}
	return "our " + dept.String() + " team"
}

// LoadEnv reads .env files for local development. Missing files are not an error.
func LoadEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err == nil {
			return
		}
	}
}

// Load builds Settings from the process environment
func Load() (Settings, error) {
	s := Settings{
		Environment:              getEnv("ENVIRONMENT", "development"),
		Port:                     getEnv("PORT", "8080"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		UseMemoryStore:           os.Getenv("USE_MEMORY_STORE") == "true",
		DisableWebhookValidation: os.Getenv("DISABLE_WEBHOOK_VALIDATION") == "true",

		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioPhoneNumber: os.Getenv("TWILIO_PHONE_NUMBER"),
		PublicBaseURL:     strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		VoiceName:         getEnv("VOICE_NAME", "Polly.Joanna"),

		CompanyName: getEnv("COMPANY_NAME", "our company"),
		Hours: BusinessHours{
			Start:    getEnv("BUSINESS_HOURS_START", "09:00"),
			End:      getEnv("BUSINESS_HOURS_END", "17:00"),
			Timezone: getEnv("BUSINESS_TIMEZONE", "America/New_York"),
		},
		Sales: Destination{
			Number:      os.Getenv("SALES_PHONE_NUMBER"),
			ContactName: os.Getenv("SALES_CONTACT_NAME"),
		},
		Support: Destination{
			Number:      os.Getenv("SUPPORT_PHONE_NUMBER"),
			ContactName: os.Getenv("SUPPORT_CONTACT_NAME"),
		},

		GeneratorProvider: getEnv("GENERATOR_PROVIDER", "groq"),
		GroqAPIKey:        os.Getenv("GROQ_API_KEY"),
		GroqModel:         getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
	}

	var err error
	if s.Hours.Days, err = ParseWeekdays(getEnv("BUSINESS_DAYS", "mon,tue,wed,thu,fri")); err != nil {
		return s, err
	}
	if s.GenerationMaxTokens, err = getInt("GENERATION_MAX_TOKENS", 150); err != nil {
		return s, err
	}
	if s.GenerationTemperature, err = getFloat("GENERATION_TEMPERATURE", 0.7); err != nil {
		return s, err
	}
	if s.GenerationTimeout, err = getDuration("GENERATION_TIMEOUT", 8*time.Second); err != nil {
		return s, err
	}
	if s.HandlerDeadline, err = getDuration("HANDLER_DEADLINE", 10*time.Second); err != nil {
		return s, err
	}
	if s.ReaperInterval, err = getDuration("REAPER_INTERVAL", 2*time.Minute); err != nil {
		return s, err
	}
	if s.ReaperMaxAge, err = getDuration("REAPER_MAX_AGE", 15*time.Minute); err != nil {
		return s, err
	}

	return s, s.Validate()
}

// Validate checks values that would otherwise fail at call time
func (s Settings) Validate() error {
	if err := s.Hours.Validate(); err != nil {
		return err
	}
	switch s.GeneratorProvider {
	case "groq", "gemini":
	default:
		return fmt.Errorf("%w: GENERATOR_PROVIDER %q (want groq or gemini)", ErrConfigInvalid, s.GeneratorProvider)
	}
	if s.GenerationMaxTokens <= 0 {
		return fmt.Errorf("%w: GENERATION_MAX_TOKENS must be positive", ErrConfigInvalid)
	}
	if s.ReaperInterval <= 0 || s.ReaperMaxAge <= 0 {
		return fmt.Errorf("%w: reaper interval and max age must be positive", ErrConfigInvalid)
	}
	return nil
}

// TwilioConfigured reports whether REST credentials are present
func (s Settings) TwilioConfigured() bool {
	return s.TwilioAccountSID != "" && s.TwilioAuthToken != ""
}

// ValidateWebhooks reports whether inbound webhooks must carry a valid Twilio signature
func (s Settings) ValidateWebhooks() bool {
	return s.Environment != "development" && !s.DisableWebhookValidation
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrConfigInvalid, key, v)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrConfigInvalid, key, v)
	}
	return f, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrConfigInvalid, key, v)
	}
	return d, nil
}
