package main

import (
	"context"
	"fmt"
)

// addUser updates or creates an administrator holding every role.
func (cli *commandLine) addUser(name, uname, email, pwd string) error {
	usr, err := cli.usrSvc.AddAdmin(context.Background(), name, uname, email, pwd)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "administrator %s saved\n", usr.Actor())
	return nil
}
