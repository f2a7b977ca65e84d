package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteduco342/OMChat-backend/internal/bus"
	"github.com/noteduco342/OMChat-backend/internal/cache"
	"github.com/noteduco342/OMChat-backend/internal/middleware"
	"github.com/noteduco342/OMChat-backend/internal/models"
	"github.com/noteduco342/OMChat-backend/internal/service"
	"github.com/noteduco342/OMChat-backend/internal/testutil"
)

const (
	alice uint = 1
	bob   uint = 2
	carol uint = 3
)

type testServer struct {
	app      *fiber.App
	helper   *testutil.TestHelper
	messages *testutil.FakeMessageRepository
	blobs    *testutil.FakeBlobStore
	dir      *testutil.RecordingDirectory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	users := testutil.NewFakeUserRepository()
	users.Add(alice, bob, carol)
	messages := testutil.NewFakeMessageRepository(users)
	groups := testutil.NewFakeGroupRepository(users, messages)
	blobs := testutil.NewFakeBlobStore()
	dir := testutil.NewRecordingDirectory(alice, bob, carol)

	counter := cache.NewUnreadCounter(cache.NewMemoryUnreadBackend())
	convCache := cache.NewConversationCache(nil)
	b := bus.NewLocal()
	t.Cleanup(func() { _ = b.Close() })

	router := service.NewDeliveryRouter(dir, b, counter, nil)
	require.NoError(t, router.Start(ctx))
	resolver := service.NewConversationResolver(users, groups)
	attachments := service.NewAttachmentService(blobs)
	reconciler := service.NewReadReconciler(messages, resolver, router, counter, convCache, service.ReconcilerOptions{Mode: service.UnreadReset})
	messageSvc := service.NewMessageService(messages, users, resolver, router, counter, convCache, attachments, 0)
	groupSvc := service.NewGroupService(groups, users, messages, router, counter, convCache, attachments)

	messageHandler := NewMessageHandler(messageSvc, reconciler)
	groupHandler := NewGroupHandler(groupSvc, messageSvc)
	mediaHandler := NewMediaHandler(blobs)

	app := fiber.New()
	api := app.Group("/api", middleware.AuthRequired(testutil.TestJWTSecret))
	api.Get("/messages/users", messageHandler.GetSidebarUsers)
	api.Post("/messages/mark-read", messageHandler.MarkRead)
	api.Get("/messages/unread/:userId", messageHandler.GetUnreadCount)
	api.Post("/messages/send/:id", messageHandler.SendMessage)
	api.Get("/messages/:id", messageHandler.GetMessages)
	api.Post("/groups/create", groupHandler.CreateGroup)
	api.Get("/groups", groupHandler.GetMyGroups)
	api.Get("/groups/:groupId/unread", groupHandler.GetGroupUnreadCount)
	api.Get("/groups/:id/messages", groupHandler.GetGroupMessages)
	api.Post("/groups/:id/send", groupHandler.SendGroupMessage)
	api.Put("/groups/:id/add-members", groupHandler.AddMembers)
	api.Put("/groups/:id/remove-member", groupHandler.RemoveMember)
	api.Put("/groups/:id", groupHandler.UpdateGroup)
	api.Delete("/groups/:id", groupHandler.DeleteGroup)
	api.Get("/media/*", mediaHandler.GetMedia)

	return &testServer{
		app:      app,
		helper:   testutil.NewTestHelper(t),
		messages: messages,
		blobs:    blobs,
		dir:      dir,
	}
}

func (s *testServer) do(t *testing.T, as uint, method, target string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+s.helper.AccessToken(as, time.Hour))
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (s *testServer) doJSON(t *testing.T, as uint, method, target string, payload interface{}) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return s.do(t, as, method, target, body, fiber.MIMEApplicationJSON)
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.RGBA{G: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/api/groups", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestSendMessage_JSON(t *testing.T) {
	s := newTestServer(t)

	resp := s.doJSON(t, alice, http.MethodPost, "/api/messages/send/2", map[string]interface{}{"text": "hello bob"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var msg models.MessageResponse
	decodeBody(t, resp, &msg)
	assert.Equal(t, "hello bob", msg.Text)
	assert.Equal(t, alice, msg.SenderID)
	require.NotNil(t, msg.RecipientID)
	assert.Equal(t, bob, *msg.RecipientID)

	assert.Equal(t, []string{"newMessage"}, s.dir.ReceivedTypes(bob))
	assert.Empty(t, s.dir.ReceivedTypes(carol))
}

func TestSendMessage_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		target string
		body   interface{}
		status int
	}{
		{"Bad id", "/api/messages/send/abc", map[string]string{"text": "x"}, fiber.StatusBadRequest},
		{"Unknown peer", "/api/messages/send/99", map[string]string{"text": "x"}, fiber.StatusNotFound},
		{"Self", "/api/messages/send/1", map[string]string{"text": "x"}, fiber.StatusBadRequest},
		{"Empty", "/api/messages/send/2", map[string]string{"text": "  "}, fiber.StatusBadRequest},
		{"Bad base64", "/api/messages/send/2", map[string]string{"image": "data:image/png;base64,***"}, fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.doJSON(t, alice, http.MethodPost, tt.target, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
	assert.Zero(t, s.messages.Count())
}

func TestSendMessage_MultipartImage(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("text", "look"))
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="cat.png"`)
	h.Set("Content-Type", "image/png")
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(pngBytes(t))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	resp := s.do(t, alice, http.MethodPost, "/api/messages/send/2", &body, w.FormDataContentType())
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var msg models.MessageResponse
	decodeBody(t, resp, &msg)
	assert.Equal(t, "look", msg.Text)
	assert.True(t, strings.HasPrefix(msg.Image, "https://cdn.test/chat-images/"), "image url %q", msg.Image)
	assert.Len(t, s.blobs.Objects, 1)
}

func TestSendMessage_JSONFile(t *testing.T) {
	s := newTestServer(t)

	resp := s.doJSON(t, alice, http.MethodPost, "/api/messages/send/2", map[string]string{
		"file":     "data:application/pdf;base64,JVBERi0xLjQ=",
		"fileName": "report.pdf",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var msg models.MessageResponse
	decodeBody(t, resp, &msg)
	require.NotNil(t, msg.File)
	assert.Equal(t, "report.pdf", msg.File.Name)
	assert.Equal(t, "application/pdf", msg.File.ContentType)
	assert.Equal(t, models.AttachmentFile, msg.File.Kind)
	assert.Equal(t, int64(8), msg.File.Size)
}

func TestMarkReadAndUnread(t *testing.T) {
	s := newTestServer(t)

	var ids []uint
	for _, text := range []string{"one", "two"} {
		resp := s.doJSON(t, alice, http.MethodPost, "/api/messages/send/2", map[string]string{"text": text})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
		var msg models.MessageResponse
		decodeBody(t, resp, &msg)
		ids = append(ids, msg.ID)
	}

	var unread struct {
		UnreadCount int64 `json:"unreadCount"`
	}
	decodeBody(t, s.doJSON(t, bob, http.MethodGet, "/api/messages/unread/1", nil), &unread)
	assert.Equal(t, int64(2), unread.UnreadCount)

	resp := s.doJSON(t, bob, http.MethodPost, "/api/messages/mark-read", map[string]interface{}{
		"messageIds":     ids,
		"isGroup":        false,
		"conversationId": alice,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var result service.ReadResult
	decodeBody(t, resp, &result)
	assert.ElementsMatch(t, ids, result.Marked)
	assert.Equal(t, []uint{alice}, result.Notified)

	decodeBody(t, s.doJSON(t, bob, http.MethodGet, "/api/messages/unread/1?resync=1", nil), &unread)
	assert.Zero(t, unread.UnreadCount)
	assert.Contains(t, s.dir.ReceivedTypes(alice), "messages:read:update")

	var conversation []models.MessageResponse
	decodeBody(t, s.doJSON(t, alice, http.MethodGet, "/api/messages/2", nil), &conversation)
	require.Len(t, conversation, 2)
	assert.True(t, conversation[0].IsRead)
	assert.Equal(t, "one", conversation[0].Text)
}

func TestMarkRead_Invalid(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, bob, http.MethodPost, "/api/messages/mark-read", strings.NewReader("{"), fiber.MIMEApplicationJSON)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = s.doJSON(t, bob, http.MethodPost, "/api/messages/mark-read", map[string]interface{}{
		"messageIds":     []uint{1},
		"conversationId": 0,
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSidebar(t *testing.T) {
	s := newTestServer(t)
	s.doJSON(t, bob, http.MethodPost, "/api/messages/send/1", map[string]string{"text": "hey"})

	var users []models.SidebarUser
	decodeBody(t, s.doJSON(t, alice, http.MethodGet, "/api/messages/users", nil), &users)
	require.Len(t, users, 2)
	assert.Equal(t, bob, users[0].ID)
	assert.Equal(t, int64(1), users[0].UnreadCount)
	assert.Zero(t, users[1].UnreadCount)
}

func TestGroupLifecycle(t *testing.T) {
	s := newTestServer(t)

	resp := s.doJSON(t, alice, http.MethodPost, "/api/groups/create", map[string]interface{}{
		"name":    "team",
		"members": []uint{bob},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var group models.GroupResponse
	decodeBody(t, resp, &group)
	assert.Equal(t, "team", group.Name)
	assert.Equal(t, alice, group.Admin.ID)
	assert.Len(t, group.Members, 2)

	groupPath := "/api/groups/" + itoa(group.ID)

	resp = s.doJSON(t, bob, http.MethodPost, groupPath+"/send", map[string]string{"text": "hi team"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Contains(t, s.dir.ReceivedTypes(alice), "newGroupMessage")

	var unread struct {
		UnreadCount int64 `json:"unreadCount"`
	}
	decodeBody(t, s.doJSON(t, alice, http.MethodGet, groupPath+"/unread", nil), &unread)
	assert.Equal(t, int64(1), unread.UnreadCount)

	resp = s.doJSON(t, carol, http.MethodGet, groupPath+"/messages", nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = s.doJSON(t, bob, http.MethodPut, groupPath+"/add-members", map[string]interface{}{"members": []uint{carol}})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = s.doJSON(t, alice, http.MethodPut, groupPath+"/add-members", map[string]interface{}{"members": []uint{carol}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &group)
	assert.Len(t, group.Members, 3)

	var messages []models.MessageResponse
	decodeBody(t, s.doJSON(t, carol, http.MethodGet, groupPath+"/messages", nil), &messages)
	assert.Len(t, messages, 1)

	resp = s.doJSON(t, carol, http.MethodPut, groupPath+"/remove-member", map[string]interface{}{"memberId": carol})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &group)
	assert.Len(t, group.Members, 2)

	resp = s.doJSON(t, alice, http.MethodPut, groupPath, map[string]string{"name": "renamed"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &group)
	assert.Equal(t, "renamed", group.Name)

	var mine []models.GroupResponse
	decodeBody(t, s.doJSON(t, bob, http.MethodGet, "/api/groups", nil), &mine)
	require.Len(t, mine, 1)
	assert.Equal(t, "renamed", mine[0].Name)

	resp = s.doJSON(t, bob, http.MethodDelete, groupPath, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	resp = s.doJSON(t, alice, http.MethodDelete, groupPath, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	decodeBody(t, s.doJSON(t, bob, http.MethodGet, "/api/groups", nil), &mine)
	assert.Empty(t, mine)
	assert.Zero(t, s.messages.Count())
}

func TestCreateGroup_Multipart(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("name", "design"))
	require.NoError(t, w.WriteField("members", "2, 3"))
	require.NoError(t, w.Close())

	resp := s.do(t, alice, http.MethodPost, "/api/groups/create", &body, w.FormDataContentType())
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var group models.GroupResponse
	decodeBody(t, resp, &group)
	assert.Len(t, group.Members, 3)
}

func TestParseMemberList(t *testing.T) {
	tests := []struct {
		raw       string
		want      []uint
		shouldErr bool
	}{
		{"[2,3]", []uint{2, 3}, false},
		{"2, 3,", []uint{2, 3}, false},
		{"x", nil, true},
		{"[2,", nil, true},
	}
	for _, tt := range tests {
		got, err := parseMemberList(tt.raw)
		if tt.shouldErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got)
	}
}

func TestDecodeDataURL(t *testing.T) {
	data, contentType, err := decodeDataURL("data:text/plain;base64,aGk=")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
	assert.Equal(t, "text/plain", contentType)

	data, contentType, err = decodeDataURL("aGk=")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
	assert.Empty(t, contentType)

	_, _, err = decodeDataURL("data:text/plain,hi")
	assert.Error(t, err)
}

func TestGetMedia(t *testing.T) {
	s := newTestServer(t)
	s.blobs.Objects["chat-files/abc.txt"] = []byte("hello")

	resp := s.do(t, alice, http.MethodGet, "/api/media/chat-files/abc.txt", nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, `"etag-5"`, resp.Header.Get("ETag"))
	assert.Equal(t, fiber.MIMEOctetStream, resp.Header.Get("Content-Type"))

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"Missing object", "/api/media/chat-files/nope.txt", fiber.StatusNotFound},
		{"Unknown folder", "/api/media/secrets/abc.txt", fiber.StatusNotFound},
		{"Traversal", "/api/media/chat-files/..%2Fabc.txt", fiber.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, alice, http.MethodGet, tt.target, nil, "")
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/media/chat-files/abc.txt", nil)
	req.Header.Set("Authorization", "Bearer "+s.helper.AccessToken(alice, time.Hour))
	req.Header.Set("If-None-Match", `"etag-5"`)
	resp, err = s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotModified, resp.StatusCode)
}

func TestGetMedia_NotConfigured(t *testing.T) {
	app := fiber.New()
	app.Get("/media/*", NewMediaHandler(nil).GetMedia)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/media/chat-files/a.txt", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func itoa(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
