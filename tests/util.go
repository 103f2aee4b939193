package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/student"
	"github.com/daniel-alt-pages/ietac-sub000/core/user"
)

// Password passes the password policy.
const Password = "Xk9#mTq2!vLw"

// Validator returns a validator with every custom rule and translation registered.
func Validator(t *testing.T) (*validator.Validate, ut.Translator) {
	t.Helper()
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	if err := user.InitValidators(validate, translator); err != nil {
		t.Fatalf("Validator() failed: %v", err)
	}
	return validate, translator
}

// Roster holds 1001 (IETAC, explicit email) and 2001 (SG, local part only).
func Roster() *student.Roster {
	return student.NewRoster(
		student.Student{StudentID: "1001", First: "Ana", Last: "Gomez", Institution: student.InstitutionIETAC, Email: "ana.gomez@gmail.com"},
		student.Student{StudentID: "2001", First: "Carlos", Last: "Rodriguez", Institution: student.InstitutionSG, EmailNormalized: "carlos.rodriguez"},
	)
}

// CreateUser stores a user straight into repo, skipping the password policy.
func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:        uuid.New().String(),
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}
