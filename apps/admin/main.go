package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/academy/core"
	"github.com/trezcool/academy/core/training"
	logsvc "github.com/trezcool/academy/services/logger"
	"github.com/trezcool/academy/storage/database"
	boiledrepos "github.com/trezcool/academy/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/academy/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	if conf.Database.InMemory {
		logger.Fatal("the admin CLI requires a database: unset DATABASE.INMEMORY")
	}

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	if err = database.StatusCheck(context.Background(), db); err != nil {
		logger.Fatal(fmt.Sprintf("checking database: %v", err), err)
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	training.InitValidators(validate, translator, conf.Training.MinRecapLength)

	// start CLI
	cli := commandLine{
		db:       db,
		usrRepo:  boiledrepos.NewUserRepository(db),
		validate: validate,
		trainingSvc: training.NewService(training.ServiceDeps{
			DB:    db,
			Repos: sqlxrepos.Repositories(database.Sqlx(db, conf)),
			Conf:  conf,
		}),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("\nerror: %s\n", err), err)
		}
		logger.Wait()
		os.Exit(1)
	}
}
