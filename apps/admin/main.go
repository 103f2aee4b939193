package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/alert"
	"github.com/daniel-alt-pages/ietac-sub000/core/student"
	"github.com/daniel-alt-pages/ietac-sub000/core/user"
	emailsvc "github.com/daniel-alt-pages/ietac-sub000/services/email"
	logsvc "github.com/daniel-alt-pages/ietac-sub000/services/logger"
	"github.com/daniel-alt-pages/ietac-sub000/storage/database"
	inmemdb "github.com/daniel-alt-pages/ietac-sub000/storage/database/inmem"
	sqlxrepos "github.com/daniel-alt-pages/ietac-sub000/storage/database/sqlx"
	redisstore "github.com/daniel-alt-pages/ietac-sub000/storage/redis"
)

func main() {
	conf := core.NewConfig()
	zl := logsvc.NewZap(conf).Named("admin")
	logger := logsvc.NewLogger(zl, conf)
	defer zl.Sync() //nolint:errcheck

	errAndDie := func(msg string, err error) {
		if err != nil {
			logger.Fatal(msg, err)
		}
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	errAndDie("initializing validators", user.InitValidators(validate, translator))

	roster, err := student.DefaultRoster()
	errAndDie("loading roster", err)

	ctx := context.Background()
	var mail core.EmailService = emailsvc.NewConsoleService(conf, logger)
	if !conf.Debug && conf.SendgridApiKey != "" {
		mail = emailsvc.NewSendgridService(conf, logger)
	}

	var (
		cli    commandLine
		tokens student.ConfirmationStore = inmemdb.NewConfirmationStore()
	)
	if conf.Redis.Address != "" {
		client, err := redisstore.NewClient(ctx, conf)
		errAndDie("connecting to redis", err)
		defer client.Close()
		tokens = redisstore.NewConfirmationStore(client)
	}

	if conf.Database.Engine == database.EngineMemory {
		mem := inmemdb.Open()
		alertSvc := alert.NewService(inmemdb.NewAlertRepository(mem), mail, conf, logger)
		cli = commandLine{
			usrSvc:     user.NewService(inmemdb.NewUserRepository(mem), mail, validate),
			studentSvc: student.NewService(inmemdb.NewStudentRepository(mem), tokens, roster, alertSvc, validate, conf, logger),
		}
	} else {
		errAndDie("creating database", database.CreateIfNotExist(ctx, conf))
		var db *sqlx.DB
		db, err = database.Open(ctx, conf)
		errAndDie("opening database", err)
		defer db.Close()

		alertSvc := alert.NewService(sqlxrepos.NewAlertRepository(db), mail, conf, logger)
		cli = commandLine{
			db:         db.DB,
			usrSvc:     user.NewService(sqlxrepos.NewUserRepository(db), mail, validate),
			studentSvc: student.NewService(sqlxrepos.NewStudentRepository(db), tokens, roster, alertSvc, validate, conf, logger),
		}
	}
	cli.out = os.Stdout

	// start CLI
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		zl.Sync() //nolint:errcheck
		os.Exit(1)
	}
}
