package FiberConfig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"AcesFuel/Config"
	"AcesFuel/Inbox"
	"AcesFuel/Models"
	"AcesFuel/Push"
	"AcesFuel/Storage"
	"AcesFuel/Store"
	"AcesFuel/Tasks"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	app   *fiber.App
	store *Store.Gorm
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	cfg, err := Config.Parse([]byte(fmt.Sprintf(`
auth:
  jwt_secret: routes-test
database:
  driver: sqlite
  dsn: "%s"
storage:
  local_dir: "%s"
  public_base_url: http://test/uploads
  max_upload_mb: 1
`, dsn, dir)))
	require.NoError(t, err)

	db, err := Models.Connect(cfg.Database)
	require.NoError(t, err)
	store := Store.NewGorm(db)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, store.CreateDriver(ctx, &Models.Driver{Name: "Omar", Phone: "0500", PasswordHash: hash, Active: true}))
	require.NoError(t, store.CreateDriver(ctx, &Models.Driver{Name: "Retired", PasswordHash: hash}))
	require.NoError(t, store.CreateUser(ctx, &Models.User{Name: "Ops", Email: "ops@acesfuel.test", Password: hash, Permission: 4}))
	lat, lon := 24.7136, 46.6753
	require.NoError(t, store.CreateSite(ctx, &Models.Site{SiteName: "Site A", Latitude: &lat, Longitude: &lon}))

	uploader, err := Storage.NewLocal(dir, cfg.Storage.PublicBaseURL)
	require.NoError(t, err)
	logger := zerolog.Nop()
	sender := Push.NewSender(nil, logger)

	app := New(Deps{
		Config: cfg,
		Logger: logger,
		Store:  store,
		Sessions: Tasks.NewRegistry(Tasks.Deps{
			Store:          store,
			Sites:          store,
			Uploader:       uploader,
			MaxUploadBytes: cfg.Storage.MaxUploadBytes(),
			Logger:         logger,
		}),
		Bindings: Push.NewBindings(store, logger),
		Board:    Tasks.NewBoard(store, logger),
		Inbox:    Inbox.NewService(store, sender, cfg.Notifications.InboxLimit, logger),
	})
	return &testServer{app: app, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, cookies ...*http.Cookie) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.send(t, req, cookies...)
}

func (s *testServer) send(t *testing.T, req *http.Request, cookies ...*http.Cookie) (*http.Response, map[string]interface{}) {
	t.Helper()
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func (s *testServer) login(t *testing.T, path string, body interface{}, name string) *http.Cookie {
	t.Helper()
	resp, _ := s.do(t, http.MethodPost, path, body)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	for _, cookie := range resp.Cookies() {
		if cookie.Name == name {
			return &http.Cookie{Name: cookie.Name, Value: cookie.Value}
		}
	}
	t.Fatalf("no %s cookie", name)
	return nil
}

func (s *testServer) upload(t *testing.T, slot, fileName string, data []byte, cookie *http.Cookie) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/driver/completion/images/"+slot, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return s.send(t, req, cookie)
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func (s *testServer) uploadSlots(t *testing.T, files map[string][]byte, cookie *http.Cookie) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for slot, data := range files {
		part, err := writer.CreateFormFile(slot, slot+".jpg")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/driver/completion/images", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return s.send(t, req, cookie)
}

func TestDriverCompletionFlow(t *testing.T) {
	s := newTestServer(t)
	dispatcher := s.login(t, "/api/Login", map[string]string{"email": "ops@acesfuel.test", "password": "pw"}, "jwt")
	driver := s.login(t, "/api/driver/login", map[string]string{"name": " omar ", "password": "pw"}, "driver_jwt")

	resp, created := s.do(t, http.MethodPost, "/api/dispatch/missions", map[string]interface{}{
		"site_name":       "Site A",
		"driver_name":     "Omar",
		"scheduled_at":    "2026-03-01T08:00:00Z",
		"required_liters": 500,
	}, dispatcher)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pending", created["status"])
	assert.Equal(t, "Creation", created["admin_status"])
	id := uint(created["ID"].(float64))

	resp, list := s.do(t, http.MethodGet, "/api/driver/tasks", nil, driver)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	tasks := list["tasks"].([]interface{})
	require.Len(t, tasks, 1)
	assert.InDelta(t, 24.7136, tasks[0].(map[string]interface{})["site_latitude"], 1e-9)
	assert.EqualValues(t, 1, list["counts"].(map[string]interface{})["pending"])

	resp, directions := s.do(t, http.MethodGet, fmt.Sprintf("/api/driver/tasks/%d/directions", id), nil, driver)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, directions["url"], "destination=24.7136%2C46.6753")

	resp, started := s.do(t, http.MethodPost, fmt.Sprintf("/api/driver/tasks/%d/start", id), nil, driver)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "in_progress", started["status"])

	resp, _ = s.do(t, http.MethodPost, fmt.Sprintf("/api/driver/tasks/%d/start", id), nil, driver)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/driver/completion/submit", nil, driver)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode, "nothing opened yet")

	resp, state := s.do(t, http.MethodPost, fmt.Sprintf("/api/driver/tasks/%d/complete", id), nil, driver)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Site A", state["form"].(map[string]interface{})["site_id"])

	resp, slot := s.upload(t, "tank_after", "Tank.PNG", pngHeader, driver)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(slot["url"].(string), fmt.Sprintf("http://test/uploads/Omar/%d/tank_after_", id)))
	assert.True(t, strings.HasSuffix(slot["url"].(string), ".png"))

	resp, slot = s.upload(t, "counter_after", "huge.jpg", bytes.Repeat([]byte{0xff}, 1024*1024+10), driver)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "Max file size is 1MB", slot["error"])

	resp, _ = s.upload(t, "selfie", "x.jpg", pngHeader, driver)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, batch := s.uploadSlots(t, map[string][]byte{"counter_before": pngHeader, "tank_before": pngHeader}, driver)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	slots := batch["slots"].([]interface{})
	require.Len(t, slots, 2)
	for _, raw := range slots {
		assert.NotEmpty(t, raw.(map[string]interface{})["url"])
	}

	resp, batch = s.uploadSlots(t, map[string][]byte{"counter_before": pngHeader, "counter_after": bytes.Repeat([]byte{0xff}, 1024*1024+10)}, driver)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Len(t, batch["slots"], 2)

	resp, _ = s.uploadSlots(t, map[string][]byte{"selfie": pngHeader}, driver)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPatch, "/api/driver/completion", map[string]string{
		"quantity_added": "120.5 L",
		"notes":          "topped up",
		"odometer":       "88012",
	}, driver)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, done := s.do(t, http.MethodPost, "/api/driver/completion/submit", nil, driver)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", done["status"])
	assert.Equal(t, "topped up", done["notes"])

	stored, err := s.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, Models.StatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	assert.NotEmpty(t, stored.TankAfterURL)

	entries, err := s.store.EntriesForTask(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 120.5, entries[0].Liters)
	require.NotNil(t, entries[0].Odometer)
	assert.Equal(t, 88012, *entries[0].Odometer)

	resp, list = s.do(t, http.MethodGet, "/api/driver/tasks?mode=all", nil, driver)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, list["tasks"], "completed tasks leave the working list")
	assert.Len(t, list["recent_completed"], 1)

	resp, _ = s.do(t, http.MethodPost, "/api/driver/completion/submit", nil, driver)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/driver/logout", nil, driver)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var cleared bool
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "driver_jwt" && cookie.Value == "" {
			cleared = true
		}
	}
	assert.True(t, cleared)

	resp, _ = s.do(t, http.MethodGet, "/api/logs", nil, dispatcher)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode, "request logs go to stdout in tests")
}

func TestDispatcherBoard(t *testing.T) {
	s := newTestServer(t)
	dispatcher := s.login(t, "/api/Login", map[string]string{"email": "ops@acesfuel.test", "password": "pw"}, "jwt")

	resp, invalid := s.do(t, http.MethodPost, "/api/dispatch/missions", map[string]string{}, dispatcher)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	fields := invalid["fields"].(map[string]interface{})
	assert.Contains(t, fields, "driver_name")
	assert.Contains(t, fields, "site_name")

	resp, created := s.do(t, http.MethodPost, "/api/dispatch/missions", map[string]string{"site_name": "Site A", "driver_name": "Omar"}, dispatcher)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	id := uint(created["ID"].(float64))

	resp, relabeled := s.do(t, http.MethodPatch, fmt.Sprintf("/api/dispatch/missions/%d/admin-status", id), map[string]string{"admin_status": "Task returned to the driver"}, dispatcher)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Task returned to the driver", relabeled["admin_status"])

	resp, _ = s.do(t, http.MethodPatch, fmt.Sprintf("/api/dispatch/missions/%d/admin-status", id), map[string]string{"admin_status": "Lost"}, dispatcher)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, board := s.do(t, http.MethodGet, "/api/dispatch/missions", nil, dispatcher)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	counts := board["counts"].(map[string]interface{})
	assert.EqualValues(t, 1, counts["Task returned to the driver"])
	assert.EqualValues(t, 0, counts["Creation"])

	resp, _ = s.do(t, http.MethodDelete, fmt.Sprintf("/api/dispatch/missions/%d", id), nil, dispatcher)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	_, err := s.store.GetTask(context.Background(), id)
	assert.ErrorIs(t, err, Store.ErrNotFound)

	resp, _ = s.do(t, http.MethodDelete, fmt.Sprintf("/api/dispatch/missions/%d", id), nil, dispatcher)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/dispatch/missions", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestNotificationsAndPush(t *testing.T) {
	s := newTestServer(t)
	dispatcher := s.login(t, "/api/Login", map[string]string{"email": "ops@acesfuel.test", "password": "pw"}, "jwt")
	driver := s.login(t, "/api/driver/login", map[string]string{"name": "Omar", "password": "pw"}, "driver_jwt")

	resp, _ := s.do(t, http.MethodPost, "/api/driver/push/register", map[string]string{"token": "tok-1", "platform": "android"}, driver)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	tokens, err := s.store.PushTokensForDriver(context.Background(), "Omar")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-1"}, tokens)

	resp, _ = s.do(t, http.MethodPost, "/api/driver/push/register", map[string]string{"token": "tok-1", "platform": "pager"}, driver)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/dispatch/notifications", map[string]string{"title": "Returned", "message": "Retake tank photo", "driver_name": "Omar"}, dispatcher)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/dispatch/notifications", map[string]string{"title": "All", "message": "Depot closed"}, dispatcher)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, inbox := s.do(t, http.MethodGet, "/api/driver/notifications", nil, driver)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, inbox["items"], 2)
	assert.EqualValues(t, 2, inbox["unread"])

	resp, inbox = s.do(t, http.MethodPost, "/api/driver/notifications/read", nil, driver)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, inbox["unread"])

	resp, tap := s.do(t, http.MethodPost, "/api/driver/push/tap", map[string]interface{}{"data": map[string]string{"path": "/driver/inbox"}}, driver)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "#/driver/inbox", tap["target"])

	resp, _ = s.do(t, http.MethodPost, "/api/driver/push/register", map[string]string{"token": "tok-2", "platform": "ios"}, driver)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	tokens, err = s.store.PushTokensForDriver(context.Background(), "Omar")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, tokens)

	resp, _ = s.do(t, http.MethodPost, "/api/driver/logout", nil, driver)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	tokens, err = s.store.PushTokensForDriver(context.Background(), "Omar")
	require.NoError(t, err)
	assert.Empty(t, tokens, "logout releases every device token")
}

func TestLoginRejections(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodPost, "/api/driver/login", map[string]string{"name": "Omar", "password": "wrong"})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/driver/login", map[string]string{"name": "Retired", "password": "pw"})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/api/driver/login", map[string]string{"name": "Omar"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["fields"], "password")

	resp, _ = s.do(t, http.MethodGet, "/api/driver/tasks", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metrics, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, metrics.StatusCode)
}
