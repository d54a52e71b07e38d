package emailsvc

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sendgrid/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	appfs "github.com/trezcool/shule/fs"
	"github.com/trezcool/shule/tests"
)

func setup(t *testing.T) (*core.EmailTemplates, *core.Config, *testutil.Logger) {
	conf := testutil.NewConfig()
	tmpls, err := core.ParseEmailTemplates(appfs.FS, conf)
	require.NoError(t, err)
	return tmpls, conf, testutil.NewLogger()
}

type accountLink struct {
	Label, Username, ActivationURL string
}

func approvedMessage() *core.EmailMessage {
	return &core.EmailMessage{
		To:           []mail.Address{{Name: "Ana Mora", Address: "ana@test.cd"}},
		Subject:      "Enrollment approved",
		TemplateName: "student_approved",
		TemplateData: map[string]interface{}{
			"GuardianName": "Ana Mora",
			"StudentName":  "Beto Mora",
			"GradeName":    "5th",
			"GroupName":    "5th-1",
			"Accounts": []accountLink{
				{Label: "Student", Username: "beto_mora_s4", ActivationURL: "http://localhost:8080/activate/NA/tok"},
			},
		},
	}
}

func TestConsoleServiceMock(t *testing.T) {
	tmpls, conf, logger := setup(t)
	svc := NewConsoleServiceMock(tmpls, conf, logger)

	svc.SendMessages(
		approvedMessage(),
		&core.EmailMessage{Subject: "no recipients", BodyStr: "lost"},
		&core.EmailMessage{To: []mail.Address{{Address: "x@test.cd"}}, TemplateName: "unknown"},
	)

	sent := svc.SentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].TextContent, "The enrollment of Beto Mora has been approved.")
	assert.Contains(t, sent[0].TextContent, "Student username: beto_mora_s4")
	assert.Contains(t, sent[0].HTMLContent, `href="http://localhost:8080/activate/NA/tok"`)
	assert.Equal(t, []string{`rendering email: unknown email template "unknown"`}, logger.Messages("error"))
}

func TestConsoleService_format(t *testing.T) {
	tmpls, conf, logger := setup(t)
	svc := NewConsoleServiceMock(tmpls, conf, logger)

	msg := approvedMessage()
	require.NoError(t, tmpls.Render(msg))
	require.NoError(t, msg.Attach(strings.NewReader("a,b\n1,2\n"), "roster.csv", "text/csv"))

	body, err := svc.format(*msg)
	require.NoError(t, err)
	assert.Contains(t, body, "Subject: [Shule] Enrollment approved\r\n")
	assert.Contains(t, body, "To: \"Ana Mora\" <ana@test.cd>\r\n")
	assert.Contains(t, body, "Content-Type: multipart/mixed; boundary=")
	assert.Contains(t, body, "attachment; filename=roster.csv")
}

func TestSendgridService(t *testing.T) {
	tmpls, conf, logger := setup(t)
	conf.SendgridApiKey = "SG.key"

	var (
		mu   sync.Mutex
		reqs []rest.Request
	)
	done := make(chan struct{}, 2)
	origAPI := sendgridAPIFunc
	t.Cleanup(func() { sendgridAPIFunc = origAPI })
	sendgridAPIFunc = func(req rest.Request) (*rest.Response, error) {
		mu.Lock()
		reqs = append(reqs, req)
		mu.Unlock()
		defer func() { done <- struct{}{} }()
		if strings.Contains(string(req.Body), "rejected") {
			return &rest.Response{StatusCode: http.StatusBadRequest, Body: "bad"}, nil
		}
		return &rest.Response{StatusCode: http.StatusAccepted}, nil
	}

	rejected := approvedMessage()
	rejected.Subject = "rejected"
	NewSendgridService(tmpls, conf, logger).SendMessages(approvedMessage(), rejected)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("messages were not sent")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reqs, 2)
	for _, req := range reqs {
		assert.Equal(t, rest.Method(http.MethodPost), req.Method)
		assert.Equal(t, "Bearer SG.key", req.Headers["Authorization"])

		var body struct {
			Content []struct{ Type string } `json:"content"`
		}
		require.NoError(t, json.Unmarshal(req.Body, &body))
		require.Len(t, body.Content, 2)
		assert.Equal(t, "text/plain", body.Content[0].Type)
	}
	// the error is logged once the response came back
	assert.Eventually(t, func() bool { return len(logger.Messages("error")) == 1 }, time.Second, 10*time.Millisecond)
}
