package main

import (
	"context"
	"fmt"

	"github.com/trezcool/shule/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(name, uname, email, pwd string, isAdmin bool) error {
	ctx := context.Background()
	if name == "" {
		name = uname
	}

	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if err == user.ErrNotFound && email != "" {
		usr, err = cli.usrSvc.GetByUsernameOrEmail(ctx, email)
	}

	switch {
	case err == user.ErrNotFound:
		nu := user.NewUser{
			Name:            name,
			Username:        uname,
			Email:           email,
			Password:        pwd,
			PasswordConfirm: pwd,
		}
		if isAdmin {
			nu.Roles = []string{user.RoleAdmin}
		}
		if usr, err = cli.usrSvc.Create(ctx, nu); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "user %q created (id %d)\n", usr.Username, usr.ID)
		return nil

	case err != nil:
		return err
	}

	if isAdmin && !usr.IsAdmin() {
		usr.Roles = append(usr.Roles, user.RoleAdmin)
	}
	usr.IsActive = true
	if usr, err = cli.usrSvc.Update(ctx, usr); err != nil {
		return err
	}
	if _, err = cli.usrSvc.SetPassword(ctx, usr, user.ResetUserPassword{Password: pwd, PasswordConfirm: pwd}); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "user %q updated (id %d)\n", usr.Username, usr.ID)
	return nil
}
