package core

import (
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
		Host                      string
		Address                   string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		InMemory      bool // DEV only: use the in-memory repositories
	}

	TrainingConfig struct {
		QuizPassingScore     int     // percent
		VideoCompletionRatio float64 // watched position / duration
		SeekTolerance        time.Duration
		TickInterval         time.Duration
		PlaybackTimeout      time.Duration // ticking stops when the player goes silent this long
		FlushInterval        time.Duration
		SessionIdleTimeout   time.Duration
		MinRecapLength       int
		NotifyOnCompletion   bool
	}

	Config struct {
		Env              string // DEV (local; default), TEST, QA, PROD
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		WorkDir          string
		FrontendBaseURL  string
		RollbarToken     string
		SendgridApiKey   string
		defaultFromEmail mail.Address
		Server           ServerConfig
		Database         DatabaseConfig
		Training         TrainingConfig
	}
)

func (c Config) DefaultFromEmail() mail.Address { return c.defaultFromEmail }

// Address returns the "host:port" of the database server.
func (c DatabaseConfig) Address() string {
	return c.Host + ":" + c.Port
}

// NewConfig loads the configuration from defaults, `config/.env.<env>` (if any) and the environment.
// Environment variables are prefixed by the upper-cased env name, eg: DEV_SECRETKEY.
func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Academy")
	v.SetDefault("secretKey", "u7#m0ayq(8d-kz=s2i1nq!n^0g@w3h6n)%gt0r+c8vtwr@bk5_")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("defaultFromName", "Academy")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "academy")
	v.SetDefault("database.user", "academy")
	v.SetDefault("database.password", "academy")
	v.SetDefault("database.adminUser", "")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.inMemory", false)

	v.SetDefault("training.quizPassingScore", 70)
	v.SetDefault("training.videoCompletionRatio", 0.9)
	v.SetDefault("training.seekTolerance", 2*time.Second)
	v.SetDefault("training.tickInterval", time.Second)
	v.SetDefault("training.playbackTimeout", 15*time.Second)
	v.SetDefault("training.flushInterval", 10*time.Second)
	v.SetDefault("training.sessionIdleTimeout", 30*time.Minute)
	v.SetDefault("training.minRecapLength", 20)
	v.SetDefault("training.notifyOnCompletion", true)

	env := strings.ToUpper(strings.TrimSpace(os.Getenv("ENV")))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

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
		Env:             env,
		Build:           v.GetString("build"),
		Debug:           v.GetBool("debug"),
		TestMode:        v.GetBool("testMode"),
		AppName:         v.GetString("appName"),
		SecretKey:       v.GetString("secretKey"),
		WorkDir:         workDir,
		FrontendBaseURL: v.GetString("frontendBaseURL"),
		RollbarToken:    v.GetString("rollbarToken"),
		SendgridApiKey:  v.GetString("sendgridApiKey"),
		defaultFromEmail: mail.Address{
			Name:    v.GetString("defaultFromName"),
			Address: v.GetString("defaultFromEmail"),
		},
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Address:                   v.GetString("server.address"),
			DebugHost:                 v.GetString("server.debugHost"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			InMemory:      v.GetBool("database.inMemory"),
		},
		Training: TrainingConfig{
			QuizPassingScore:     v.GetInt("training.quizPassingScore"),
			VideoCompletionRatio: v.GetFloat64("training.videoCompletionRatio"),
			SeekTolerance:        v.GetDuration("training.seekTolerance"),
			TickInterval:         v.GetDuration("training.tickInterval"),
			PlaybackTimeout:      v.GetDuration("training.playbackTimeout"),
			FlushInterval:        v.GetDuration("training.flushInterval"),
			SessionIdleTimeout:   v.GetDuration("training.sessionIdleTimeout"),
			MinRecapLength:       v.GetInt("training.minRecapLength"),
			NotifyOnCompletion:   v.GetBool("training.notifyOnCompletion"),
		},
	}
}

// NewTestConfig returns the config used by tests: TEST mode, fixed secret key.
func NewTestConfig() *Config {
	conf := NewConfig()
	conf.Env = "TEST"
	conf.TestMode = true
	conf.SecretKey = "secret"
	conf.Training.NotifyOnCompletion = false
	return conf
}
