package main

import (
	"context"

	"github.com/daniel-alt-pages/ietac-sub000/core/user"
)

func (cli *commandLine) resetPassword(uname, pwd string) error {
	ctx := context.Background()
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	_, err = cli.usrSvc.ChangePassword(ctx, usr, user.ChangePassword{Password: pwd, PasswordConfirm: pwd})
	return err
}
