package dig_container

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"
	"go.uber.org/zap"

	echoapi "github.com/daniel-alt-pages/ietac-sub000/apps/api/echo"
	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/alert"
	"github.com/daniel-alt-pages/ietac-sub000/core/notification"
	"github.com/daniel-alt-pages/ietac-sub000/core/student"
	"github.com/daniel-alt-pages/ietac-sub000/core/user"
	emailsvc "github.com/daniel-alt-pages/ietac-sub000/services/email"
	logsvc "github.com/daniel-alt-pages/ietac-sub000/services/logger"
	pushsvc "github.com/daniel-alt-pages/ietac-sub000/services/push"
	"github.com/daniel-alt-pages/ietac-sub000/storage/database"
	inmemdb "github.com/daniel-alt-pages/ietac-sub000/storage/database/inmem"
	sqlxrepos "github.com/daniel-alt-pages/ietac-sub000/storage/database/sqlx"
	redisstore "github.com/daniel-alt-pages/ietac-sub000/storage/redis"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Store holds the repositories of the configured engine.
type Store struct {
	dig.Out

	DB            *sqlx.DB // nil with the memory engine
	Users         user.Repository
	Students      student.Repository
	Notifications notification.Repository
	Alerts        alert.Repository
}

type serverParams struct {
	dig.In

	Conf            *core.Config
	Logger          core.Logger
	Validate        *validator.Validate
	Translator      ut.Translator
	UserSvc         *user.Service
	StudentSvc      *student.Service
	NotificationSvc *notification.Service
	AlertSvc        *alert.Service
}

func newLogger(zl *zap.Logger, conf *core.Config) core.Logger {
	return logsvc.NewLogger(zl.Named("api"), conf)
}

func newDBLogger(zl *zap.Logger, conf *core.Config) core.Logger {
	return logsvc.NewLogger(zl.Named("db"), conf)
}

func newStore(conf *core.Config, loggerParam DBLoggerParam) Store {
	if conf.Database.Engine == database.EngineMemory {
		loggerParam.Logger.Warn("using the in-memory store: nothing survives a restart")
		mem := inmemdb.Open()
		return Store{
			Users:         inmemdb.NewUserRepository(mem),
			Students:      inmemdb.NewStudentRepository(mem),
			Notifications: inmemdb.NewNotificationRepository(mem),
			Alerts:        inmemdb.NewAlertRepository(mem),
		}
	}

	setUp := func() (*sqlx.DB, error) {
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout*6)
		defer cancel()

		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}
		db, err := database.Open(ctx, conf)
		if err != nil {
			return nil, err
		}
		if err = database.Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal("setting up database", err)
	}
	return Store{
		DB:            db,
		Users:         sqlxrepos.NewUserRepository(db),
		Students:      sqlxrepos.NewStudentRepository(db),
		Notifications: sqlxrepos.NewNotificationRepository(db),
		Alerts:        sqlxrepos.NewAlertRepository(db),
	}
}

// newConfirmationStore uses Redis when an address is configured, process memory otherwise.
func newConfirmationStore(conf *core.Config, logger core.Logger) student.ConfirmationStore {
	if conf.Redis.Address == "" {
		return inmemdb.NewConfirmationStore()
	}
	client, err := redisstore.NewClient(context.Background(), conf)
	if err != nil {
		logger.Fatal("connecting to redis", err)
	}
	return redisstore.NewConfirmationStore(client)
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newValidator(translator ut.Translator) (*validator.Validate, error) {
	validate := validator.New()
	core.InitValidators(validate, translator)
	if err := user.InitValidators(validate, translator); err != nil {
		return nil, err
	}
	return validate, nil
}

func newStudentService(
	repo student.Repository,
	tokens student.ConfirmationStore,
	roster *student.Roster,
	alerts *alert.Service,
	validate *validator.Validate,
	conf *core.Config,
	logger core.Logger,
) *student.Service {
	return student.NewService(repo, tokens, roster, alerts, validate, conf, logger)
}

func newNotificationService(
	repo notification.Repository,
	students *student.Service,
	alerts *alert.Service,
	validate *validator.Validate,
	logger core.Logger,
) *notification.Service {
	return notification.NewService(repo, students, alerts, validate, logger)
}

func newRelay(conf *core.Config, notifications *notification.Service, logger core.Logger) *pushsvc.Relay {
	return pushsvc.NewRelay(conf, notifications, logger)
}

// newServer listens for SIGINT and SIGTERM on the shutdown channel of the server.
func newServer(p serverParams) *echoapi.Server {
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	return echoapi.NewServer(p.Conf.Server.Address, shutdown, &echoapi.Deps{
		Conf:            p.Conf,
		Logger:          p.Logger,
		Validate:        p.Validate,
		Translator:      p.Translator,
		UserSvc:         p.UserSvc,
		StudentSvc:      p.StudentSvc,
		NotificationSvc: p.NotificationSvc,
		AlertSvc:        p.AlertSvc,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(logsvc.NewZap))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStore))
	must(c.Provide(newConfirmationStore))
	must(c.Provide(newEmailService))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(student.DefaultRoster))
	must(c.Provide(user.NewService))
	must(c.Provide(alert.NewService))
	must(c.Provide(newStudentService))
	must(c.Provide(newNotificationService))
	must(c.Provide(newRelay))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
