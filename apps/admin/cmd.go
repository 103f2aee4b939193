package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/daniel-alt-pages/ietac-sub000/core/student"
	"github.com/daniel-alt-pages/ietac-sub000/core/user"
	exportsvc "github.com/daniel-alt-pages/ietac-sub000/services/export"
)

// cliActor signs the roster changes made from the command line.
const cliActor = "admin-cli"

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp       = errors.New("help provided")
	errNoDatabase = errors.New("no SQL database configured")
)

type commandLine struct {
	db         *sql.DB // nil with the memory engine
	usrSvc     *user.Service
	studentSvc *student.Service
	out        io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, down, status, redo, ...) on the embedded migrations")
	fmt.Fprintln(cli.out, "  adduser -name NAME -username USERNAME -email EMAIL - create or update an administrator")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Fprintln(cli.out, "  seed - store every static roster entry that is not stored yet")
	fmt.Fprintln(cli.out, "  reconcile [-grace DURATION] - finish interrupted student id changes")
	fmt.Fprintln(cli.out, "  optimize - remove stored students identical to their static roster entry")
	fmt.Fprintln(cli.out, "  export -out FILE [-format xlsx|csv] - export the live roster")
}

// promptPassword reads a password from the terminal without echoing it.
func (cli *commandLine) promptPassword(usage func()) (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		usage()
		return "", errHelp
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserName := addUserCmd.String("name", "", "The administrator's full name.")
	addUserUname := addUserCmd.String("username", "", "The administrator's username. The password will be prompted next.")
	addUserEmail := addUserCmd.String("email", "", "The administrator's email.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	reconcileCmd := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	reconcileGrace := reconcileCmd.Duration("grace", 0, "Only finish id changes left unfinished for longer than this.")

	exportCmd := flag.NewFlagSet("export", flag.ContinueOnError)
	exportOut := exportCmd.String("out", "", "The file to write, or a directory to write a timestamped file into.")
	exportFormat := exportCmd.String("format", exportsvc.FormatXLSX, "xlsx or csv.")

	for _, fs := range []*flag.FlagSet{addUserCmd, resetPasswordCmd, reconcileCmd, exportCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserName == "" || (*addUserUname == "" && *addUserEmail == "") {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(addUserCmd.Usage)
		if err != nil {
			return err
		}
		return cli.addUser(*addUserName, *addUserUname, *addUserEmail, pwd)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(resetPasswordCmd.Usage)
		if err != nil {
			return err
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "seed":
		return cli.seed()

	case "reconcile":
		if err := reconcileCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.reconcile(*reconcileGrace)

	case "optimize":
		return cli.optimize()

	case "export":
		if err := exportCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *exportOut == "" {
			exportCmd.Usage()
			return errHelp
		}
		return cli.export(*exportOut, *exportFormat, time.Now())

	default:
		cli.printUsage()
		return errHelp
	}
}
