package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sopdesk/internal/accounts"
	"sopdesk/internal/activity"
	"sopdesk/internal/attach"
	"sopdesk/internal/auth"
	"sopdesk/internal/dbsync"
	"sopdesk/internal/records"
	"sopdesk/internal/testutil"
	"sopdesk/internal/websocket"
)

type testEnv struct {
	app *App
	srv *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	testutil.CreateLegacyAccount(t, db, "Nelson", "8463", testutil.AccountOpts{Role: "admin", CanAdd: true, CanDelete: true})
	testutil.CreateAccount(t, db, "amy", "pw-amy", testutil.AccountOpts{CanAdd: true})
	testutil.CreateAccount(t, db, "viewer", "pw-viewer", testutil.AccountOpts{})

	root := t.TempDir()
	dirs := map[attach.Category]string{}
	for _, c := range attach.Categories {
		dirs[c] = filepath.Join(root, string(c))
	}
	files, err := attach.NewStore(dirs)
	require.NoError(t, err)

	hub := websocket.NewHub(nil)
	log := activity.New(db, hub)
	app := &App{
		DB:       db,
		Sessions: auth.NewSessionStore(db),
		Records:  records.New(db, files, log, hub, nil),
		Accounts: accounts.New(db, hub),
		Activity: log,
		Hub:      hub,
	}
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &testEnv{app: app, srv: srv}
}

// client returns an HTTP client with its own cookie jar, logged in when
// username is not empty.
func (e *testEnv) client(t *testing.T, username, password string) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	c := &http.Client{Jar: jar}
	if username != "" {
		resp := e.do(t, c, "POST", "/auth/login", jsonBody(t, map[string]string{"username": username, "password": password}), "application/json")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
	return c
}

func (e *testEnv) do(t *testing.T, c *http.Client, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.Do(req)
	require.NoError(t, err)
	return resp
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][2]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, f := range files {
		part, err := mw.CreateFormFile(field, f[0])
		require.NoError(t, err)
		_, err = part.Write([]byte(f[1]))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) createRecord(t *testing.T, c *http.Client, code string, files map[string][2]string) *http.Response {
	t.Helper()
	body, ct := multipartBody(t, map[string]string{"product_code": code, "product_name": "board " + code}, files)
	return e.do(t, c, "POST", "/api/v1/records", body, ct)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "", "")

	var bodies []string
	for _, creds := range [][2]string{{"Nelson", "wrong"}, {"ghost", "8463"}} {
		resp := env.do(t, c, "POST", "/auth/login", jsonBody(t, map[string]string{"username": creds[0], "password": creds[1]}), "application/json")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		bodies = append(bodies, string(b))
	}
	assert.Equal(t, bodies[0], bodies[1])
	assert.Contains(t, bodies[0], auth.ErrInvalidCredentials.Error())
}

func TestLoginMeLogout(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "Nelson", "8463")

	var me struct {
		Data sessionView `json:"data"`
	}
	resp := env.do(t, c, "GET", "/auth/me", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &me)
	assert.Equal(t, "Nelson", me.Data.Username)
	assert.Equal(t, "admin", me.Data.Role)

	resp = env.do(t, c, "POST", "/auth/logout", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, c, "GET", "/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestAPIRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "", "")
	for _, path := range []string{"/api/v1/records", "/api/v1/activity", "/api/v1/accounts", "/ws"} {
		resp := env.do(t, c, "GET", path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		resp.Body.Close()
	}
}

func TestRecordLifecycle(t *testing.T) {
	env := newTestEnv(t)
	amy := env.client(t, "amy", "pw-amy")
	admin := env.client(t, "Nelson", "8463")

	resp := env.createRecord(t, amy, "1234567890", map[string][2]string{
		"dip_sop": {"dip.pdf", "dip v1"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Data struct {
			ProductCode string `json:"product_code"`
			DipSOP      string `json:"dip_sop"`
			CreatedBy   string `json:"created_by"`
		} `json:"data"`
	}
	decode(t, resp, &created)
	assert.Equal(t, "amy", created.Data.CreatedBy)
	assert.Regexp(t, `^[0-9]{14}_dip\.pdf$`, filepath.Base(created.Data.DipSOP))

	resp = env.createRecord(t, amy, "1234567890", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = env.createRecord(t, amy, "123", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, amy, "GET", "/api/v1/records?q=board&order=asc", nil, "")
	var list struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Total int `json:"total"`
		} `json:"meta"`
	}
	decode(t, resp, &list)
	assert.Equal(t, 1, list.Meta.Total)

	resp = env.do(t, amy, "GET", "/api/v1/records?order=sideways", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Replace the DIP SOP and download it.
	body, ct := multipartBody(t, nil, map[string][2]string{"file": {"dip-v2.pdf", "dip v2"}})
	resp = env.do(t, amy, "PUT", "/api/v1/records/1234567890/documents/dip_sop", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	_, err := os.Stat(created.Data.DipSOP)
	assert.True(t, os.IsNotExist(err))

	resp = env.do(t, amy, "GET", "/api/v1/records/1234567890/documents/dip_sop", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "dip v2", string(got))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "_dip-v2.pdf")

	resp = env.do(t, amy, "GET", "/api/v1/records/1234567890/documents/test_sop", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
	resp = env.do(t, amy, "GET", "/api/v1/records/1234567890/documents/bogus", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// amy may add but not delete.
	resp = env.do(t, amy, "DELETE", "/api/v1/records/1234567890", nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, admin, "DELETE", "/api/v1/records/1234567890", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, admin, "GET", "/api/v1/records/1234567890", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
	resp = env.do(t, admin, "DELETE", "/api/v1/records/1234567890", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	var activityList struct {
		Data []struct {
			Username string `json:"username"`
			Action   string `json:"action"`
			Filename string `json:"filename"`
		} `json:"data"`
	}
	resp = env.do(t, amy, "GET", "/api/v1/activity", nil, "")
	decode(t, resp, &activityList)
	require.Len(t, activityList.Data, 3)
	assert.Equal(t, "delete", activityList.Data[0].Action)
	assert.Equal(t, "1234567890", activityList.Data[0].Filename)
}

func TestCreateRecord_RequiresAddPermission(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.client(t, "viewer", "pw-viewer")
	resp := env.createRecord(t, viewer, "12345678", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestBulkDeleteAndExport(t *testing.T) {
	env := newTestEnv(t)
	admin := env.client(t, "Nelson", "8463")
	for _, code := range []string{"11111111", "22222222", "33333333"} {
		resp := env.createRecord(t, admin, code, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp := env.do(t, admin, "GET", "/api/v1/records/export?format=csv", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	csvBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, 4, strings.Count(string(csvBody), "\n"))

	resp = env.do(t, admin, "GET", "/api/v1/records/export?format=xlsx", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")
	resp.Body.Close()

	resp = env.do(t, admin, "GET", "/api/v1/records/export?format=pdf", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, admin, "POST", "/api/v1/records/delete", jsonBody(t, map[string]any{"codes": []string{"11111111", "33333333"}}), "application/json")
	var deleted struct {
		Data map[string]int `json:"data"`
	}
	decode(t, resp, &deleted)
	assert.Equal(t, 2, deleted.Data["deleted"])

	resp = env.do(t, admin, "POST", "/api/v1/records/delete", jsonBody(t, map[string]any{"codes": []string{}}), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAccountsAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	amy := env.client(t, "amy", "pw-amy")
	admin := env.client(t, "Nelson", "8463")

	resp := env.do(t, amy, "GET", "/api/v1/accounts", nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, admin, "POST", "/api/v1/accounts", jsonBody(t, map[string]any{"username": "dora", "password": "pw", "can_delete": true}), "application/json")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	env.client(t, "dora", "pw")

	resp = env.do(t, admin, "POST", "/api/v1/accounts", jsonBody(t, map[string]any{"username": "dora", "password": "pw"}), "application/json")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, admin, "POST", "/api/v1/accounts", jsonBody(t, map[string]any{"username": "", "password": "pw"}), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, admin, "PUT", "/api/v1/accounts/Nelson", jsonBody(t, map[string]any{"role": "user", "active": true}), "application/json")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
	resp = env.do(t, admin, "DELETE", "/api/v1/accounts/Nelson", nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Disabling amy ends her session at once.
	resp = env.do(t, admin, "PUT", "/api/v1/accounts/amy", jsonBody(t, map[string]any{"can_add": true, "active": false}), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp = env.do(t, amy, "GET", "/api/v1/records", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, admin, "GET", "/api/v1/accounts?filter=inactive", nil, "")
	var list struct {
		Data []struct {
			Username string `json:"username"`
		} `json:"data"`
	}
	decode(t, resp, &list)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "amy", list.Data[0].Username)

	resp = env.do(t, admin, "DELETE", "/api/v1/accounts/dora", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestUpdateAccount_RenameOnly(t *testing.T) {
	env := newTestEnv(t)
	admin := env.client(t, "Nelson", "8463")

	resp := env.do(t, admin, "PUT", "/api/v1/accounts/amy", jsonBody(t, map[string]any{"username": "amy2"}), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		Data struct {
			Username  string `json:"username"`
			CanAdd    bool   `json:"can_add"`
			CanDelete bool   `json:"can_delete"`
			Active    bool   `json:"active"`
		} `json:"data"`
	}
	decode(t, resp, &got)
	assert.Equal(t, "amy2", got.Data.Username)
	assert.True(t, got.Data.CanAdd)
	assert.False(t, got.Data.CanDelete)
	assert.True(t, got.Data.Active)

	amy := env.client(t, "amy2", "pw-amy")
	resp = env.do(t, amy, "GET", "/auth/me", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestActivityAdminDeletes(t *testing.T) {
	env := newTestEnv(t)
	amy := env.client(t, "amy", "pw-amy")
	admin := env.client(t, "Nelson", "8463")
	resp := env.createRecord(t, amy, "12345678", map[string][2]string{
		"test_sop":      {"t.pdf", "t"},
		"oqc_checklist": {"o.pdf", "o"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	var entries struct {
		Data []struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	resp = env.do(t, amy, "GET", "/api/v1/activity", nil, "")
	decode(t, resp, &entries)
	require.Len(t, entries.Data, 2)

	resp = env.do(t, amy, "DELETE", "/api/v1/activity", nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, admin, "POST", "/api/v1/activity/delete", jsonBody(t, map[string]any{"ids": []int64{entries.Data[0].ID}}), "application/json")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, admin, "DELETE", "/api/v1/activity", nil, "")
	var cleared struct {
		Data map[string]int64 `json:"data"`
	}
	decode(t, resp, &cleared)
	assert.EqualValues(t, 1, cleared.Data["deleted"])
}

func TestCheckin(t *testing.T) {
	env := newTestEnv(t)
	admin := env.client(t, "Nelson", "8463")

	resp := env.do(t, admin, "POST", "/api/v1/sync/checkin", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	share := filepath.Join(t.TempDir(), "troubleshooting.db")
	local := filepath.Join(t.TempDir(), "troubleshooting.db")
	require.NoError(t, os.WriteFile(share, []byte("v1"), 0o644))
	env.app.Replica = dbsync.New(share, local, nil)
	require.NoError(t, env.app.Replica.Checkout(t.Context()))
	require.NoError(t, os.WriteFile(share, []byte("changed elsewhere"), 0o644))

	resp = env.do(t, admin, "POST", "/api/v1/sync/checkin", jsonBody(t, map[string]bool{"force": false}), "application/json")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	amy := env.client(t, "amy", "pw-amy")
	resp = env.do(t, amy, "POST", "/api/v1/sync/checkin", jsonBody(t, map[string]bool{"force": true}), "application/json")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, admin, "POST", "/api/v1/sync/checkin", jsonBody(t, map[string]bool{"force": true}), "application/json")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	b, err := os.ReadFile(share)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(b))
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "", "")

	resp := env.do(t, c, "GET", "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, c, "GET", "/metrics", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(b), "sopdesk_http_requests_total")
}
