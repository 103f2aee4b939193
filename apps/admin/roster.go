package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/daniel-alt-pages/ietac-sub000/core/student"
	exportsvc "github.com/daniel-alt-pages/ietac-sub000/services/export"
)

func (cli *commandLine) seed() error {
	n, err := cli.studentSvc.Seed(context.Background(), cliActor)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d students seeded\n", n)
	return nil
}

func (cli *commandLine) reconcile(grace time.Duration) error {
	n, err := cli.studentSvc.ReconcileMigrations(context.Background(), grace)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d id changes finished\n", n)
	return nil
}

func (cli *commandLine) optimize() error {
	removed, err := cli.studentSvc.Optimize(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d redundant students removed", len(removed))
	if len(removed) > 0 {
		fmt.Fprintf(cli.out, ": %s", strings.Join(removed, ", "))
	}
	fmt.Fprintln(cli.out)
	return nil
}

func (cli *commandLine) export(path, format string, now time.Time) (err error) {
	if format != exportsvc.FormatXLSX && format != exportsvc.FormatCSV {
		return exportsvc.ErrUnknownFormat
	}
	students, err := cli.studentSvc.Query(context.Background(), student.QueryFilter{}, nil)
	if err != nil {
		return err
	}

	// a directory gets a timestamped file name
	if fi, statErr := os.Stat(path); statErr == nil && fi.IsDir() {
		path = filepath.Join(path, exportsvc.Filename(format, now))
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating export file")
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if err = exportsvc.Write(f, format, students); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d students exported to %s\n", len(students), path)
	return nil
}
