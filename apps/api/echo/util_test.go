package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core/enrollment"
	"github.com/trezcool/shule/core/user"
	"github.com/trezcool/shule/services/metrics"
	inmemdb "github.com/trezcool/shule/storage/database/inmem"
	"github.com/trezcool/shule/tests"
)

var ctx = context.Background()

type env struct {
	*testutil.EnrollmentEnv
	users *user.Service
	app   *echoapi.Server
}

func setup(t *testing.T) *env {
	e := &env{EnrollmentEnv: testutil.NewEnrollmentEnv(t, enrollment.Options{})}
	conf := testutil.NewConfig()
	validate, uni := testutil.NewValidator()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewPrometheusMetrics(reg)
	require.NoError(t, err)
	e.Svc = enrollment.NewService(e.Repo, e.Approved, m, e.Logger, validate, enrollment.OptionsFromConfig(conf))
	e.users = user.NewService(inmemdb.NewUserRepository(e.DB), validate, conf)

	e.app = echoapi.NewServer(echoapi.ServerDeps{
		Conf:           conf,
		Logger:         e.Logger,
		DB:             e.DB,
		EnrollmentSvc:  e.Svc,
		UserSvc:        e.users,
		Translator:     uni,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		DisableReqLogs: true,
	})
	t.Cleanup(func() { _ = e.app.Close() })
	return e
}

// do serves the request and returns the recorder.
func (e *env) do(method, path string, body []byte, locale ...string) *httptest.ResponseRecorder {
	req, rec := newRequest(method, path, body)
	if len(locale) > 0 {
		req.Header.Set("Accept-Language", locale[0])
	}
	e.app.ServeHTTP(rec, req)
	return rec
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	locale   string
	wantCode int
	wantData []byte
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return req, rec
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj(): %v", err)
	}
	return data
}

func unmarshalBody(t *testing.T, rec *httptest.ResponseRecorder, obj interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), obj); err != nil {
		t.Fatalf("unmarshalBody(%s): %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, e *env, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var locale []string
			if tt.locale != "" {
				locale = append(locale, tt.locale)
			}
			rec := e.do(tt.method, tt.path, tt.body, locale...)
			checkCodeAndData(t, tt, rec)
		})
	}
}
