package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/shule/core/enrollment"
	"github.com/trezcool/shule/core/user"
	"github.com/trezcool/shule/storage"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	st       *storage.Storage
	usrSvc   *user.Service
	enrolSvc *enrollment.Service
	out      io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, down, status, redo, version...)")
	fmt.Fprintln(cli.out, "  seed -file FILE - create the grades & teachers listed in a YAML file")
	fmt.Fprintln(cli.out, "  adduser -username USERNAME -email EMAIL [-name NAME] [-admin] - create or update a user")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Fprintln(cli.out, "  pending - list the pending pre-registrations")
	fmt.Fprintln(cli.out, "  decide -prereg ID -outcome approved|rejected - decide a pre-registration")
	fmt.Fprintln(cli.out, "  assignteacher -teacher ID -group ID - bind a teacher to a group")
	fmt.Fprintln(cli.out, "  unassignteacher -teacher ID - free a teacher from its group")
	fmt.Fprintln(cli.out, "  roster -group ID - print the roster of a group")
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

// promptPassword reads a password from the terminal, without echo.
func (cli *commandLine) promptPassword(label string) (string, error) {
	fmt.Fprint(cli.out, label)
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	migrateCmd := cli.newFlagSet("migrate")

	seedCmd := cli.newFlagSet("seed")
	seedFile := seedCmd.String("file", "", "The YAML file listing the grades & teachers.")

	addUserCmd := cli.newFlagSet("adduser")
	addUserUname := addUserCmd.String("username", "", "The user's username. The password will be prompted next.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserName := addUserCmd.String("name", "", "The user's name (defaults to the username).")
	addUserAdmin := addUserCmd.Bool("admin", false, "Give the user the admin role.")

	resetPasswordCmd := cli.newFlagSet("resetpassword")
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	pendingCmd := cli.newFlagSet("pending")

	decideCmd := cli.newFlagSet("decide")
	decidePreReg := decideCmd.Int64("prereg", 0, "The pre-registration id.")
	decideOutcome := decideCmd.String("outcome", "", "approved or rejected.")

	assignCmd := cli.newFlagSet("assignteacher")
	assignTeacher := assignCmd.Int64("teacher", 0, "The teacher id.")
	assignGroup := assignCmd.Int64("group", 0, "The group id.")

	unassignCmd := cli.newFlagSet("unassignteacher")
	unassignTeacher := unassignCmd.Int64("teacher", 0, "The teacher id.")

	rosterCmd := cli.newFlagSet("roster")
	rosterGroup := rosterCmd.Int64("group", 0, "The group id.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			migrateCmd.Usage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "seed":
		if err := seedCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *seedFile == "" {
			seedCmd.Usage()
			return errHelp
		}
		return cli.seed(*seedFile)

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserUname == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword("Enter password:")
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserName, *addUserUname, *addUserEmail, pwd, *addUserAdmin)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword("Enter password:")
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "pending":
		if err := pendingCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.pending()

	case "decide":
		if err := decideCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *decidePreReg <= 0 || *decideOutcome == "" {
			decideCmd.Usage()
			return errHelp
		}
		return cli.decide(*decidePreReg, enrollment.State(*decideOutcome))

	case "assignteacher":
		if err := assignCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *assignTeacher <= 0 || *assignGroup <= 0 {
			assignCmd.Usage()
			return errHelp
		}
		return cli.assignTeacher(*assignTeacher, *assignGroup)

	case "unassignteacher":
		if err := unassignCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *unassignTeacher <= 0 {
			unassignCmd.Usage()
			return errHelp
		}
		return cli.unassignTeacher(*unassignTeacher)

	case "roster":
		if err := rosterCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *rosterGroup <= 0 {
			rosterCmd.Usage()
			return errHelp
		}
		return cli.roster(*rosterGroup)

	default:
		cli.printUsage()
		return errHelp
	}
}
