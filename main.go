package main

import (
	"fmt"
	golog "log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"transcript-bot/config"
	"transcript-bot/database"
	"transcript-bot/deliver"
	"transcript-bot/fetch"
	"transcript-bot/jobs"
	"transcript-bot/media"
	"transcript-bot/normalize"
	"transcript-bot/split"
	"transcript-bot/structure"
	"transcript-bot/transcribe"
	"transcript-bot/users"
)

var db *gorm.DB
var cfg config.Config
var pipe *pipeline

func ensureAdminAccount(db *gorm.DB) error {

	var user users.User
	if err := db.Where("username = ?", "admin").First(&user).Error; err != nil {
		// no such user
		password := cfg.AdminInitialPassword
		if password == "" {
			password = uuid.Must(uuid.NewV7()).String()
			log.Infof("generated admin password: %s", password)
		}
		if err := users.Create(db, "admin", password); err != nil {
			return err
		}
	}
	return nil
}

func main() {

	// .env is optional; real deployments set the environment directly
	godotenv.Load()

	initLogger()

	var err error
	cfg, err = config.Load()
	if err != nil {
		log.Panicf("config: %v", err)
	}

	fetch.Init(log)
	media.Init(log)
	normalize.Init(log)
	split.Init(log)
	transcribe.Init(log)
	structure.Init(log)
	deliver.Init(log)
	jobs.Init(log)

	gormLogger := logger.New(
		golog.New(os.Stdout, "\r\n", golog.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)

	for _, dir := range []string{cfg.ConfigDir, cfg.DataDir, cfg.TempDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			log.Panicf("failed to create dir %s", dir)
		}
	}

	dbPath := filepath.Join(cfg.ConfigDir, "transcripts.db")
	db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		log.Panicf("failed to connect to database %s", dbPath)
	}

	// set only a single connection so we don't actually have concurrent writes
	sqlDB, err := db.DB()
	if err != nil {
		log.Panicln("failed to retrieve database")
	}
	sqlDB.SetMaxOpenConns(1)

	db.AutoMigrate(&users.User{}, &jobs.Job{}, &jobs.Note{}, &jobs.CachedFragment{})

	database.Init(db, log)
	defer database.Fini()

	err = ensureAdminAccount(db)
	if err != nil {
		panic(fmt.Sprintf("failed to create admin user: %v", err))
	}

	store = sessions.NewCookieStore(cfg.SessionAuthKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   30 * 24 * 60 * 60, // seconds
		HttpOnly: true,
		Secure:   cfg.Secure,
	}

	pipe = newPipeline(cfg)

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.POST("/login", loginPostHandler)
	e.POST("/logout", logoutHandler)
	e.POST("/jobs", submitJobHandler, authMiddleware)
	e.GET("/jobs/:id", jobStatusHandler, authMiddleware)
	e.GET("/jobs/:id/note", jobNoteHandler, authMiddleware)
	e.POST("/jobs/:id/resend", resendHandler, authMiddleware)

	go jobWorker()
	go periodicCleanup()

	e.Logger.Fatal(e.Start(cfg.ListenAddr))
}
