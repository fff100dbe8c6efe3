package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// SearchLimit is the page size used when a list query gives none.
const SearchLimit = 50

var db *gorm.DB

func GetDB() *gorm.DB {
	return db
}

func init() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
}

// DatabaseSettings is the DB_* environment.
type DatabaseSettings struct {
	Driver   string
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func LoadDatabaseSettings() DatabaseSettings {
	return DatabaseSettings{
		Driver:          DatabaseDriver(),
		User:            os.Getenv("DB_USER"),
		Password:        os.Getenv("DB_PASSWORD"),
		Host:            os.Getenv("DB_HOST"),
		Port:            os.Getenv("DB_PORT"),
		Name:            os.Getenv("DB_NAME"),
		SSLMode:         envOr("DB_SSLMODE", "disable"),
		MaxOpenConns:    intFromEnv("DB_MAX_OPEN_CONNS", 50),
		MaxIdleConns:    intFromEnv("DB_MAX_IDLE_CONNS", 25),
		ConnMaxLifetime: time.Duration(intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second,
		ConnMaxIdleTime: time.Duration(intFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)) * time.Second,
	}
}

// DatabaseDriver returns "mysql" (default) or "postgres" from DB_DRIVER.
func DatabaseDriver() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DB_DRIVER")))
	if v == "postgres" || v == "postgresql" {
		return "postgres"
	}
	return "mysql"
}

// DSN renders the connection string for the configured driver. A MySQL host
// of the form /cloudsql/<connection> is dialed over the proxy's unix socket.
func (s DatabaseSettings) DSN() string {
	if s.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			s.Host, s.Port, s.User, s.Password, s.Name, s.SSLMode)
	}
	network, address := "tcp", s.Host+":"+s.Port
	if strings.HasPrefix(s.Host, "/cloudsql/") {
		network, address = "unix", s.Host
	}
	// decimals come back as strings and times as time.Time; the gorm models rely on both
	return fmt.Sprintf("%s:%s@%s(%s)/%s?parseTime=true&loc=UTC", s.User, s.Password, network, address, s.Name)
}

func (s DatabaseSettings) dialector() gorm.Dialector {
	if s.Driver == "postgres" {
		return postgres.Open(s.DSN())
	}
	return mysql.Open(s.DSN())
}

// ConnectDatabaseWithRetry blocks until the database answers, then sets the
// global handle. Call it from main after the HTTP listener is up.
func ConnectDatabaseWithRetry() {
	settings := LoadDatabaseSettings()
	for attempt := 1; ; attempt++ {
		conn, err := gorm.Open(settings.dialector(), initConfig())
		if err == nil {
			settings.applyPool(conn)
			if pluginErr := conn.Use(otelgorm.NewPlugin()); pluginErr != nil {
				log.Printf("db connected but failed to install otelgorm plugin: %v", pluginErr)
			}
			db = conn
			log.Printf("connected to database (driver=%s attempt=%d)", settings.Driver, attempt)
			return
		}

		sleep := retryDelay(attempt)
		log.Printf("failed to connect database (attempt=%d): %v; retrying in %s", attempt, err, sleep)
		time.Sleep(sleep)
	}
}

func (s DatabaseSettings) applyPool(conn *gorm.DB) {
	sqlDB, err := conn.DB()
	if err != nil || sqlDB == nil {
		return
	}
	if s.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(s.MaxOpenConns)
	}
	if s.MaxIdleConns >= 0 {
		sqlDB.SetMaxIdleConns(s.MaxIdleConns)
	}
	if s.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(s.ConnMaxLifetime)
	}
	if s.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(s.ConnMaxIdleTime)
	}
}

// retryDelay doubles from 2s and caps at 30s.
func retryDelay(attempt int) time.Duration {
	if attempt > 5 {
		attempt = 5
	}
	sleep := time.Second << uint(attempt)
	if sleep > 30*time.Second {
		sleep = 30 * time.Second
	}
	return sleep
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         gormLogger(),
		NamingStrategy: schema.NamingStrategy{},
		// unique violations come back as gorm.ErrDuplicatedKey on both drivers
		TranslateError: true,
	}
}

// gormLogger writes every statement to GORM_LOG when it is set, otherwise
// only errors and slow queries to stdout.
func gormLogger() logger.Interface {
	if logFile := os.Getenv("GORM_LOG"); logFile != "" {
		if f, err := os.Create(logFile); err == nil {
			return logger.New(log.New(io.MultiWriter(f), "\r\n", log.LstdFlags), logger.Config{
				LogLevel:      logger.Info,
				SlowThreshold: time.Second,
			})
		}
	}
	return logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
		LogLevel:      logger.Error,
		SlowThreshold: time.Second,
	})
}
