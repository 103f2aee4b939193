package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // register the /debug/pprof handlers
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	dig_container "github.com/daniel-alt-pages/ietac-sub000/apps/api/di/dig"
	echoapi "github.com/daniel-alt-pages/ietac-sub000/apps/api/echo"
	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/student"
	pushsvc "github.com/daniel-alt-pages/ietac-sub000/services/push"
)

func main() {
	c := dig_container.New()
	must(c.Invoke(run))
}

func run(
	conf *core.Config,
	zl *zap.Logger,
	apiLogger core.Logger,
	dbLoggerParam dig_container.DBLoggerParam,
	db *sqlx.DB,
	studentSvc *student.Service,
	relay *pushsvc.Relay,
	server *echoapi.Server,
) {
	// =========================================================================
	// Initialize App

	apiLogger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer zl.Sync() //nolint:errcheck

	if err := core.ParseEmailTemplates(); err != nil {
		apiLogger.Fatal("parsing email templates", err)
	}

	dbLogger := dbLoggerParam.Logger
	defer func() {
		if db == nil {
			return
		}
		if err := db.Close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()
	defer apiLogger.Info("Application stopped")

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugAddress, http.DefaultServeMux); err != nil {
			apiLogger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Background Jobs

	jobsCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()

	if relay.Enabled() {
		go relay.Run(jobsCtx)
	} else {
		apiLogger.Warn("push provider not configured: notifications stay queued")
	}
	go reconcile(jobsCtx, conf, studentSvc, apiLogger)

	// =========================================================================
	// Start API Service

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		apiLogger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		apiLogger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
		stopJobs()

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shut down and shed load
		if err := server.Shutdown(ctx); err != nil {
			apiLogger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				apiLogger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

// reconcile finishes interrupted re-keys every conf.Jobs.ReconcileInterval until ctx is done.
func reconcile(ctx context.Context, conf *core.Config, svc *student.Service, logger core.Logger) {
	if conf.Jobs.ReconcileInterval <= 0 {
		return
	}
	ticker := time.NewTicker(conf.Jobs.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.ReconcileMigrations(ctx, conf.Jobs.MigratingGrace)
			if err != nil {
				logger.Error(fmt.Sprintf("reconciling re-keys: %v", err), err)
			} else if n > 0 {
				logger.Info("re-keys reconciled", map[string]interface{}{"count": n})
			}
		}
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
