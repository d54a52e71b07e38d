package user

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/trezcool/shule/core"
)

var (
	// errors
	ErrNotFound       = errors.New("user not found")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
)

type (
	Repository interface {
		// CheckUsernameUniqueness returns ErrUsernameExists or ErrEmailExists when another user holds the
		// (non-empty) username or email. excludedUsers are ignored.
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		QueryAllUsers(ctx context.Context) ([]User, error)
		GetUserByID(ctx context.Context, id int64) (User, error)
		GetUserByUsernameOrEmail(ctx context.Context, username string) (User, error)
		// GetUserByPersonID returns the account of an enrollment record with the given role.
		GetUserByPersonID(ctx context.Context, personID int64, role string) (User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
	}

	Service struct {
		repo     Repository
		validate *validator.Validate
		tokens   *TokenGenerator
	}
)

func NewService(repo Repository, validate *validator.Validate, conf *core.Config) *Service {
	return &Service{
		repo:     repo,
		validate: validate,
		tokens:   NewTokenGenerator(conf.SecretKey, conf.PasswordResetTimeoutDelta),
	}
}

func (svc *Service) checkUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(ctx, uname, email, exclUsers...); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	nu.clean()
	if err := svc.validate.Struct(nu); err != nil {
		return User{}, err
	}
	if err := svc.checkUniqueness(ctx, nu.Username, nu.Email); err != nil {
		return User{}, err
	}

	now := time.Now().UTC()
	usr := User{
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		IsActive:  true,
		Roles:     nu.Roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) QueryAll(ctx context.Context) ([]User, error) {
	return svc.repo.QueryAllUsers(ctx)
}

func (svc *Service) GetByID(ctx context.Context, id int64) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *Service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUserByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
}

// Update saves usr as is, after checking that its username and email are still unique.
func (svc *Service) Update(ctx context.Context, usr User) (User, error) {
	usr.Username = core.CleanString(usr.Username, true /* lower */)
	usr.Email = core.CleanString(usr.Email, true /* lower */)
	if err := svc.checkUniqueness(ctx, usr.Username, usr.Email, usr); err != nil {
		return User{}, err
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// SetPassword applies the password policy to rp and saves the new password.
func (svc *Service) SetPassword(ctx context.Context, usr User, rp ResetUserPassword) (User, error) {
	rp.name, rp.username, rp.email = usr.Name, usr.Username, usr.Email
	if err := svc.validate.Struct(rp); err != nil {
		return User{}, err
	}
	if err := usr.SetPassword(rp.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// MakeToken returns an activation / password reset token for usr.
func (svc *Service) MakeToken(usr User) (string, error) {
	return svc.tokens.MakeToken(usr)
}

// Activate sets the first (or a new) password of the user identified by uid, given a valid token.
func (svc *Service) Activate(ctx context.Context, uid, token string, rp ResetUserPassword) (User, error) {
	id, err := DecodeUID(uid)
	if err != nil {
		return User{}, err
	}
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		if err == ErrNotFound {
			return User{}, ErrInvalidToken
		}
		return User{}, err
	}
	if err = svc.tokens.VerifyToken(usr, token); err != nil {
		return User{}, err
	}
	return svc.SetPassword(ctx, usr, rp)
}

// EnsureAccount returns the account linked to na.PersonID with na.Role, creating it if it does not exist.
// Created accounts have no password; they are activated with a token.
func (svc *Service) EnsureAccount(ctx context.Context, na NewAccount) (usr User, created bool, err error) {
	usr, err = svc.repo.GetUserByPersonID(ctx, na.PersonID, na.Role)
	if err == nil {
		return usr, false, nil
	}
	if err != ErrNotFound {
		return User{}, false, err
	}

	now := time.Now().UTC()
	usr = User{
		PersonID:  na.PersonID,
		Name:      core.CleanString(na.Name),
		Username:  accountUsername(na),
		Email:     core.CleanString(na.Email, true /* lower */),
		IsActive:  true,
		Roles:     []string{na.Role},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err = svc.checkUniqueness(ctx, usr.Username, usr.Email); err != nil {
		return User{}, false, err
	}
	if usr, err = svc.repo.CreateUser(ctx, usr); err != nil {
		return User{}, false, err
	}
	return usr, true, nil
}

// accountUsername builds a username like "jose_nunez_s12" from the account name, role and person id.
func accountUsername(na NewAccount) string {
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	ascii, _, err := transform.String(stripMarks, strings.ToLower(na.Name))
	if err != nil {
		ascii = strings.ToLower(na.Name)
	}
	fields := strings.FieldsFunc(ascii, func(r rune) bool {
		return !(r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)))
	})

	var prefix string
	if role := strings.TrimSuffix(na.Role, ":"); role != "" {
		prefix = role[:1]
	}
	fields = append(fields, fmt.Sprintf("%s%d", prefix, na.PersonID))
	return strings.Join(fields, "_")
}
