// Package notify sends the notifications triggered by enrollment decisions.
package notify

import (
	"context"
	"fmt"
	"net/mail"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/enrollment"
	"github.com/trezcool/shule/core/user"
)

const (
	studentApprovedTemplate = "student_approved"
	studentApprovedSubject  = "Enrollment approved"
)

type (
	// Accounts manages the user accounts of enrollment records; implemented by *user.Service.
	Accounts interface {
		EnsureAccount(ctx context.Context, na user.NewAccount) (user.User, bool, error)
		MakeToken(usr user.User) (string, error)
	}

	// CredentialNotifier creates the guardian & student accounts of every approved student and emails
	// their credentials to the guardian.
	CredentialNotifier struct {
		repo            enrollment.Repository
		accounts        Accounts
		mailer          core.EmailService
		logger          core.Logger
		frontendBaseURL string
		timeout         time.Duration

		wg sync.WaitGroup
		mu sync.Mutex // serializes account creation
	}

	// AccountLink is an account listed in the approval email.
	AccountLink struct {
		Label         string
		Username      string
		ActivationURL string // empty once the account has a password
	}

	// StudentApprovedData is the data of the student_approved email template.
	StudentApprovedData struct {
		GuardianName string
		StudentName  string
		GradeName    string
		GroupName    string
		Accounts     []AccountLink
	}
)

var _ enrollment.Notifier = (*CredentialNotifier)(nil)

func NewCredentialNotifier(
	repo enrollment.Repository,
	accounts Accounts,
	mailer core.EmailService,
	logger core.Logger,
	conf *core.Config,
) *CredentialNotifier {
	return &CredentialNotifier{
		repo:            repo,
		accounts:        accounts,
		mailer:          mailer,
		logger:          logger,
		frontendBaseURL: conf.FrontendBaseURL,
		timeout:         30 * time.Second,
	}
}

// OnStudentApproved notifies in the background; failures are logged.
func (n *CredentialNotifier) OnStudentApproved(studentID int64) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.notify(ctx, studentID); err != nil {
			n.logger.Error(fmt.Sprintf("notifying approval of student %d: %v", studentID, err), err)
		}
	}()
}

// Wait blocks until the pending notifications are done.
func (n *CredentialNotifier) Wait() {
	n.wg.Wait()
}

func (n *CredentialNotifier) notify(ctx context.Context, studentID int64) error {
	student, err := n.repo.GetStudent(ctx, studentID)
	if err != nil {
		return errors.Wrap(err, "loading student")
	}
	guardian, err := n.repo.GetGuardian(ctx, student.GuardianID)
	if err != nil {
		return errors.Wrap(err, "loading guardian")
	}
	grade, err := n.repo.GetGrade(ctx, student.GradeID)
	if err != nil {
		return errors.Wrap(err, "loading grade")
	}
	var groupName string
	if student.IsPlaced() {
		group, err := n.repo.GetGroup(ctx, student.GroupID)
		if err != nil {
			return errors.Wrap(err, "loading group")
		}
		groupName = group.Name
	}

	guardianAcc, studentAcc, err := n.ensureAccounts(ctx, guardian, student)
	if err != nil {
		return err
	}

	if guardian.Email == "" {
		n.logger.Warn(fmt.Sprintf("guardian %d has no email, credentials of student %d not sent", guardian.ID, student.ID))
		return nil
	}

	data := StudentApprovedData{
		GuardianName: guardian.Name,
		StudentName:  student.DisplayName(),
		GradeName:    grade.Name,
		GroupName:    groupName,
	}
	for _, acc := range []struct {
		label string
		usr   user.User
	}{{"Student", studentAcc}, {"Your", guardianAcc}} {
		link, err := n.accountLink(acc.label, acc.usr)
		if err != nil {
			return err
		}
		data.Accounts = append(data.Accounts, link)
	}

	n.mailer.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: guardian.Name, Address: guardian.Email}},
		Subject:      studentApprovedSubject,
		TemplateName: studentApprovedTemplate,
		TemplateData: data,
	})
	n.logger.Info(fmt.Sprintf("credentials of student %d sent", student.ID), map[string]interface{}{
		"guardian_id": guardian.ID,
		"student_uid": studentAcc.ID,
	})
	return nil
}

func (n *CredentialNotifier) accountLink(label string, usr user.User) (AccountLink, error) {
	link := AccountLink{Label: label, Username: usr.Username}
	if len(usr.PasswordHash) > 0 {
		return link, nil
	}
	token, err := n.accounts.MakeToken(usr)
	if err != nil {
		return AccountLink{}, errors.Wrapf(err, "making token for user %d", usr.ID)
	}
	link.ActivationURL = fmt.Sprintf("%s/activate/%s/%s", n.frontendBaseURL, user.EncodeUID(usr), token)
	return link, nil
}

func (n *CredentialNotifier) ensureAccounts(ctx context.Context, guardian enrollment.Guardian, student enrollment.Student) (guardianAcc, studentAcc user.User, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	guardianAcc, _, err = n.accounts.EnsureAccount(ctx, user.NewAccount{
		PersonID: guardian.ID,
		Role:     user.RoleGuardian,
		Name:     guardian.Name,
		Email:    guardian.Email,
	})
	if err != nil {
		return user.User{}, user.User{}, errors.Wrap(err, "ensuring guardian account")
	}
	studentAcc, _, err = n.accounts.EnsureAccount(ctx, user.NewAccount{
		PersonID: student.ID,
		Role:     user.RoleStudent,
		Name:     student.DisplayName(),
	})
	if err != nil {
		return user.User{}, user.User{}, errors.Wrap(err, "ensuring student account")
	}
	return guardianAcc, studentAcc, nil
}
