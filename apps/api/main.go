package main

import (
	"context"
	"database/sql"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/validator/v10"

	echoapi "github.com/trezcool/academy/apps/api/echo"
	"github.com/trezcool/academy/core"
	"github.com/trezcool/academy/core/session"
	"github.com/trezcool/academy/core/training"
	"github.com/trezcool/academy/core/user"
	appfs "github.com/trezcool/academy/fs"
	emailsvc "github.com/trezcool/academy/services/email"
	logsvc "github.com/trezcool/academy/services/logger"
	"github.com/trezcool/academy/storage/database"
	inmemdb "github.com/trezcool/academy/storage/database/inmem"
	boiledrepos "github.com/trezcool/academy/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/academy/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)
	defer logger.Wait()

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	// set up DB & repos
	var (
		db            core.DB
		usrRepo       user.Repository
		trainingRepos training.Repositories
	)
	if conf.Database.InMemory {
		logger.Warn("using the in-memory database: data will be lost on shutdown")
		memDB := inmemdb.NewDB()
		usrRepo = inmemdb.NewUserRepository(memDB)
		trainingRepos = memDB.TrainingRepositories()
	} else {
		sqlDB, err := setUpDB(conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
		defer func() {
			if err = sqlDB.Close(); err != nil {
				dbLogger.Error("Failed to close", err)
			}
		}()
		db = sqlDB
		usrRepo = boiledrepos.NewUserRepository(sqlDB)
		trainingRepos = sqlxrepos.Repositories(database.Sqlx(sqlDB, conf))
	}

	// set up services
	mailSvc := emailsvc.NewService(conf, logger)
	usrSvc := user.NewService(db, usrRepo)
	trainingSvc := training.NewService(training.ServiceDeps{
		DB:      db,
		Repos:   trainingRepos,
		MailSvc: mailSvc,
		Users:   usrSvc,
		Logger:  logger,
		Conf:    conf,
	})
	sessions := session.NewRegistry(trainingSvc, session.NewOptions(conf, logger), conf.Training.SessionIdleTimeout, logger)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	training.InitValidators(validate, translator, conf.Training.MinRecapLength)

	core.ParseEmailTemplates(appfs.FS, "templates", conf, logger)

	user.LoadCommonPasswords(appfs.FS, "assets/common-passwords.txt", logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.Publish("sessions", expvar.Func(func() interface{} { return sessions.Len() }))

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Session Sweeper

	sessionsCtx, stopSessions := context.WithCancel(context.Background())
	sessionsDone := make(chan struct{})
	go func() {
		defer close(sessionsDone)
		sessions.Run(sessionsCtx)
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:        conf,
			Logger:      logger,
			UserSvc:     usrSvc,
			TrainingSvc: trainingSvc,
			Sessions:    sessions,
			Validate:    validate,
			Translator:  translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}

		// flush the time tracked by the open sessions
		stopSessions()
		<-sessionsDone
	}
}

func setUpDB(conf *core.Config) (*sql.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db, "up"); err != nil {
		return nil, err
	}
	return db, nil
}
