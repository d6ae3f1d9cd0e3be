package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host            string
		Addr            string
		DebugHost       string
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		MaxUploadSize   string // echo BodyLimit fmt, e.g. "10M"
		DisableReqLogs  bool
	}

	DatabaseConfig struct {
		Engine        string // postgres | sqlite
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		Path          string // sqlite file (or ":memory:")
	}

	AnalysisConfig struct {
		GeminiAPIKey  string
		GeminiModel   string
		GeminiBaseURL string
		Timeout       time.Duration
		MaxRetries    int
		Seed          int64 // 0: seeded from the clock
	}

	NotifyConfig struct {
		Recipients []mail.Address
	}

	RetentionConfig struct {
		MaxAge   time.Duration // 0: disabled
		Schedule string        // cron spec
	}

	Config struct {
		AppName          string
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		WorkDir          string
		RollbarToken     string
		SendgridApiKey   string
		defaultFromEmail string

		Server    ServerConfig
		Database  DatabaseConfig
		Analysis  AnalysisConfig
		Notify    NotifyConfig
		Retention RetentionConfig
	}
)

func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: "noreply@localhost"}
	}
	if addr.Name == "" {
		addr.Name = c.AppName
	}
	return *addr
}

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, strconv.Itoa(db.Port))
}

// GeminiEnabled reports whether delegated analysis can be attempted.
func (a AnalysisConfig) GeminiEnabled() bool {
	return a.GeminiAPIKey != ""
}

func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("appName", "ProxyGuard")
	conf.SetDefault("debug", true)
	conf.SetDefault("testMode", false)
	conf.SetDefault("build", "develop")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("defaultFromEmail", "ProxyGuard <noreply@localhost>")
	conf.SetDefault("sendgridApiKey", "")

	conf.SetDefault("server.host", "localhost")
	conf.SetDefault("server.addr", ":8000")
	conf.SetDefault("server.debugHost", ":4000")
	conf.SetDefault("server.readTimeout", 10*time.Second)
	conf.SetDefault("server.writeTimeout", 60*time.Second)
	conf.SetDefault("server.shutdownTimeout", 10*time.Second)
	conf.SetDefault("server.maxUploadSize", "10M")
	conf.SetDefault("server.disableReqLogs", false)

	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", 5432)
	conf.SetDefault("database.name", "proxyguard")
	conf.SetDefault("database.user", "proxyguard")
	conf.SetDefault("database.password", "proxyguard")
	conf.SetDefault("database.adminUser", "postgres")
	conf.SetDefault("database.adminPassword", "postgres")
	conf.SetDefault("database.disableTLS", true)
	conf.SetDefault("database.path", "proxyguard.db")

	conf.SetDefault("analysis.geminiApiKey", "")
	conf.SetDefault("analysis.geminiModel", "gemini-2.0-flash")
	conf.SetDefault("analysis.geminiBaseUrl", "https://generativelanguage.googleapis.com")
	conf.SetDefault("analysis.timeout", 20*time.Second)
	conf.SetDefault("analysis.maxRetries", 2)
	conf.SetDefault("analysis.seed", int64(0))

	conf.SetDefault("notify.recipients", "")

	conf.SetDefault("retention.maxAge", time.Duration(0))
	conf.SetDefault("retention.schedule", "@daily")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
		conf.SetDefault("database.engine", "sqlite")
		conf.SetDefault("database.path", ":memory:")
	}
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	workDir := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	// the generation service key is commonly exported without prefix
	_ = conf.BindEnv("analysis.geminiApiKey", env+"_ANALYSIS_GEMINIAPIKEY", "GEMINI_API_KEY")

	return &Config{
		AppName:          conf.GetString("appName"),
		Env:              env,
		Build:            conf.GetString("build"),
		Debug:            conf.GetBool("debug"),
		TestMode:         conf.GetBool("testMode"),
		WorkDir:          workDir,
		RollbarToken:     conf.GetString("rollbarToken"),
		SendgridApiKey:   conf.GetString("sendgridApiKey"),
		defaultFromEmail: conf.GetString("defaultFromEmail"),
		Server: ServerConfig{
			Host:            conf.GetString("server.host"),
			Addr:            conf.GetString("server.addr"),
			DebugHost:       conf.GetString("server.debugHost"),
			ReadTimeout:     conf.GetDuration("server.readTimeout"),
			WriteTimeout:    conf.GetDuration("server.writeTimeout"),
			ShutdownTimeout: conf.GetDuration("server.shutdownTimeout"),
			MaxUploadSize:   conf.GetString("server.maxUploadSize"),
			DisableReqLogs:  conf.GetBool("server.disableReqLogs"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("database.engine"),
			Host:          conf.GetString("database.host"),
			Port:          conf.GetInt("database.port"),
			Name:          conf.GetString("database.name"),
			User:          conf.GetString("database.user"),
			Password:      conf.GetString("database.password"),
			AdminUser:     conf.GetString("database.adminUser"),
			AdminPassword: conf.GetString("database.adminPassword"),
			DisableTLS:    conf.GetBool("database.disableTLS"),
			Path:          conf.GetString("database.path"),
		},
		Analysis: AnalysisConfig{
			GeminiAPIKey:  conf.GetString("analysis.geminiApiKey"),
			GeminiModel:   conf.GetString("analysis.geminiModel"),
			GeminiBaseURL: conf.GetString("analysis.geminiBaseUrl"),
			Timeout:       conf.GetDuration("analysis.timeout"),
			MaxRetries:    conf.GetInt("analysis.maxRetries"),
			Seed:          conf.GetInt64("analysis.seed"),
		},
		Notify: NotifyConfig{
			Recipients: parseAddressList(conf.GetString("notify.recipients")),
		},
		Retention: RetentionConfig{
			MaxAge:   conf.GetDuration("retention.maxAge"),
			Schedule: conf.GetString("retention.schedule"),
		},
	}
}

// parseAddressList parses a comma separated list of addresses, skipping invalid ones.
func parseAddressList(s string) []mail.Address {
	addrs := make([]mail.Address, 0)
	for _, part := range strings.Split(s, ",") {
		part = CleanString(part)
		if part == "" {
			continue
		}
		addr, err := mail.ParseAddress(part)
		if err != nil {
			log.Printf("config: skipping invalid address %q: %v", part, err)
			continue
		}
		addrs = append(addrs, *addr)
	}
	return addrs
}
