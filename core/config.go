package core

import (
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Address                   string
		DebugAddress              string
		Host                      string
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		ShutdownTimeout           time.Duration
		DisableReqLogs            bool
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	RedisConfig struct {
		Address  string
		Password string
		DB       int
	}

	PushConfig struct {
		ProviderURL string
		ServerKey   string
		BatchSize   int
		Interval    time.Duration
		RetryCount  int
	}

	JobsConfig struct {
		ReconcileInterval time.Duration
		MigratingGrace    time.Duration
	}

	LogConfig struct {
		Level      string
		File       string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
	}

	Config struct {
		Env       string
		Build     string
		AppName   string
		Debug     bool
		TestMode  bool
		SecretKey string
		WorkDir   string

		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		AdminEmails      []mail.Address
		SendgridApiKey   string
		RollbarToken     string

		// ConfirmationTTL bounds how long a delete / rekey confirmation code stays valid.
		ConfirmationTTL time.Duration

		Server   ServerConfig
		Database DatabaseConfig
		Redis    RedisConfig
		Push     PushConfig
		Jobs     JobsConfig
		Log      LogConfig
	}
)

func (c DatabaseConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Roster")
	v.SetDefault("secretKey", "k3#w9r!pz2m$u7v@q1x*e5t&b8n^c4y(j6h)l0d")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "Roster <noreply@localhost>")
	v.SetDefault("adminEmails", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("confirmationTTL", time.Minute)

	v.SetDefault("serverAddress", ":8000")
	v.SetDefault("serverDebugAddress", ":8010")
	v.SetDefault("serverHost", "localhost")
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("shutdownTimeout", 5*time.Second)
	v.SetDefault("disableReqLogs", false)

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", 5432)
	v.SetDefault("dbName", "roster")
	v.SetDefault("dbUser", "roster")
	v.SetDefault("dbPassword", "")
	v.SetDefault("dbAdminUser", "")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("redisAddress", "localhost:6379")
	v.SetDefault("redisPassword", "")
	v.SetDefault("redisDB", 0)

	v.SetDefault("pushProviderURL", "")
	v.SetDefault("pushServerKey", "")
	v.SetDefault("pushBatchSize", 100)
	v.SetDefault("pushInterval", 10*time.Second)
	v.SetDefault("pushRetryCount", 3)

	v.SetDefault("reconcileInterval", 5*time.Minute)
	v.SetDefault("migratingGrace", 2*time.Minute)

	v.SetDefault("logLevel", "info")
	v.SetDefault("logFile", filepath.Join("logs", "roster.log"))
	v.SetDefault("logMaxSizeMB", 128)
	v.SetDefault("logMaxBackups", 30)
	v.SetDefault("logMaxAgeDays", 30)
}

// NewConfig loads the configuration of the current ENV (DEV by default; TEST, QA, PROD).
// Values come from `config/.env.<env>` when present, then from <ENV>_* environment variables.
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

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
	v.AutomaticEnv()

	return &Config{
		Env:              env,
		Build:            v.GetString("build"),
		AppName:          v.GetString("appName"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		SecretKey:        v.GetString("secretKey"),
		WorkDir:          workDir,
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		DefaultFromEmail: parseAddress(v.GetString("defaultFromEmail")),
		AdminEmails:      parseAddressList(v.GetString("adminEmails")),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		ConfirmationTTL:  v.GetDuration("confirmationTTL"),
		Server: ServerConfig{
			Address:                   v.GetString("serverAddress"),
			DebugAddress:              v.GetString("serverDebugAddress"),
			Host:                      v.GetString("serverHost"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
			ShutdownTimeout:           v.GetDuration("shutdownTimeout"),
			DisableReqLogs:            v.GetBool("disableReqLogs"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetInt("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redisAddress"),
			Password: v.GetString("redisPassword"),
			DB:       v.GetInt("redisDB"),
		},
		Push: PushConfig{
			ProviderURL: v.GetString("pushProviderURL"),
			ServerKey:   v.GetString("pushServerKey"),
			BatchSize:   v.GetInt("pushBatchSize"),
			Interval:    v.GetDuration("pushInterval"),
			RetryCount:  v.GetInt("pushRetryCount"),
		},
		Jobs: JobsConfig{
			ReconcileInterval: v.GetDuration("reconcileInterval"),
			MigratingGrace:    v.GetDuration("migratingGrace"),
		},
		Log: LogConfig{
			Level:      v.GetString("logLevel"),
			File:       v.GetString("logFile"),
			MaxSizeMB:  v.GetInt("logMaxSizeMB"),
			MaxBackups: v.GetInt("logMaxBackups"),
			MaxAgeDays: v.GetInt("logMaxAgeDays"),
		},
	}
}

// NewTestConfig returns the configuration used by tests: no I/O, short TTLs.
func NewTestConfig() *Config {
	v := viper.New()
	setDefaults(v)
	return &Config{
		Env:              "TEST",
		Build:            "test",
		AppName:          v.GetString("appName"),
		TestMode:         true,
		SecretKey:        "test-secret",
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		DefaultFromEmail: parseAddress(v.GetString("defaultFromEmail")),
		AdminEmails:      []mail.Address{{Name: "Admin", Address: "admin@roster.test"}},
		ConfirmationTTL:  v.GetDuration("confirmationTTL"),
		Server: ServerConfig{
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
			ShutdownTimeout:           v.GetDuration("shutdownTimeout"),
			DisableReqLogs:            true,
		},
		Push: PushConfig{BatchSize: 10, RetryCount: 0},
		Jobs: JobsConfig{MigratingGrace: v.GetDuration("migratingGrace")},
	}
}

func parseAddress(s string) mail.Address {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return mail.Address{Address: s}
	}
	return *addr
}

func parseAddressList(s string) []mail.Address {
	if CleanString(s) == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(s)
	if err != nil {
		log.Printf("config: invalid admin emails %q: %v", s, err)
		return nil
	}
	list := make([]mail.Address, 0, len(addrs))
	for _, a := range addrs {
		list = append(list, *a)
	}
	return list
}
