package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	echoapi "github.com/daniel-alt-pages/ietac-sub000/apps/api/echo"
	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/alert"
	"github.com/daniel-alt-pages/ietac-sub000/core/notification"
	"github.com/daniel-alt-pages/ietac-sub000/core/student"
	"github.com/daniel-alt-pages/ietac-sub000/core/user"
	emailsvc "github.com/daniel-alt-pages/ietac-sub000/services/email"
	logsvc "github.com/daniel-alt-pages/ietac-sub000/services/logger"
	inmemdb "github.com/daniel-alt-pages/ietac-sub000/storage/database/inmem"
	testutil "github.com/daniel-alt-pages/ietac-sub000/tests"
)

const testPassword = testutil.Password

var (
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
)

type app struct {
	srv  *echoapi.Server
	conf *core.Config
	db   *inmemdb.DB
	mail *emailsvc.ConsoleService

	users         *user.Service
	students      *student.Service
	notifications *notification.Service
	alerts        *alert.Service

	// owner holds every role; viewer holds none and is not an administrator
	owner, registrar, broadcaster, viewer user.User
}

func setup(t *testing.T) *app {
	t.Helper()
	ctx := context.Background()
	a := &app{conf: core.NewTestConfig(), db: inmemdb.Open()}

	validate, translator := testutil.Validator(t)
	logger := logsvc.NewLogger(zap.NewNop(), a.conf)
	roster := testutil.Roster()

	a.mail = emailsvc.NewConsoleServiceMock(a.conf, logger)
	a.users = user.NewService(inmemdb.NewUserRepository(a.db), a.mail, validate)
	a.alerts = alert.NewService(inmemdb.NewAlertRepository(a.db), a.mail, a.conf, logger)
	a.students = student.NewService(
		inmemdb.NewStudentRepository(a.db),
		inmemdb.NewConfirmationStore(),
		roster,
		a.alerts,
		validate,
		a.conf,
		logger,
	)
	a.notifications = notification.NewService(inmemdb.NewNotificationRepository(a.db), a.students, a.alerts, validate, logger)

	newUser := func(uname string, roles ...string) user.User {
		usr, err := a.users.Create(ctx, user.NewUser{
			Name:            uname,
			Username:        uname,
			Email:           uname + "@roster.test",
			Password:        testPassword,
			PasswordConfirm: testPassword,
			Roles:           roles,
		})
		require.NoError(t, err)
		return usr
	}
	a.owner = newUser("owner", user.AllRoles...)
	a.registrar = newUser("registrar", user.RoleAdmin, user.RoleAdminRegistrar)
	a.broadcaster = newUser("broadcaster", user.RoleAdmin, user.RoleAdminBroadcaster)
	a.viewer = newUser("viewer")

	a.srv = echoapi.NewServer("", nil, &echoapi.Deps{
		Conf:            a.conf,
		Logger:          logger,
		Validate:        validate,
		Translator:      translator,
		UserSvc:         a.users,
		StudentSvc:      a.students,
		NotificationSvc: a.notifications,
		AlertSvc:        a.alerts,
	})
	return a
}

// do serves one request and returns the recorder.
func (a *app) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	a.srv.ServeHTTP(rec, req)
	return rec
}

func (a *app) run(t *testing.T, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			checkCodeAndData(t, tt, a.do(method, tt.path, tt.token, tt.body))
		})
	}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	claims := echoapi.GetUserClaims(conf, usr)
	token, err := echoapi.GenerateToken(conf, claims)
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
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
	t.Helper()
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

func TestHome(t *testing.T) {
	a := setup(t)
	rec := a.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to the Roster API!", rec.Body.String())

	rec = a.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
