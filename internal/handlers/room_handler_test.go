package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primeestate/room-selection-backend/internal/config"
	"github.com/primeestate/room-selection-backend/internal/database"
	"github.com/primeestate/room-selection-backend/internal/middleware"
	"github.com/primeestate/room-selection-backend/internal/models"
	"github.com/primeestate/room-selection-backend/internal/services"
	"github.com/primeestate/room-selection-backend/pkg/jwt"
)

type testAPI struct {
	router *gin.Engine
	jwtSvc *jwt.Service
	store  *database.MemoryStore
}

// setupTestAPI wires the real engine, memory store and router the same
// way the server does
func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := database.NewMemoryStore()
	require.NoError(t, store.ReplaceUsers([]models.User{
		{ID: "admin-1", Name: "系统管理员", Phone: "13800000000", IsAdmin: true},
		{ID: "u-1", Name: "张三", Phone: "13912345678", MaxSelections: 1},
	}))
	require.NoError(t, store.ReplaceRooms([]models.Room{
		{ID: "1-1-01", Building: "1", Floor: 1, Number: "101", Area: 92, Status: models.RoomStatusAvailable, Version: 1},
		{ID: "1-1-02", Building: "1", Floor: 1, Number: "102", Area: 94, Status: models.RoomStatusAvailable, Version: 1},
	}))

	jwtSvc := jwt.NewService("test-secret", time.Hour)
	hub := services.NewBroadcastService(8, logger)
	engine := services.NewAllocationService(store, hub, logger, 3)
	generator := services.NewGeneratorService()
	authService := services.NewAuthService(store, jwtSvc, config.AuthConfig{AdminPassword: "hunter2"}, logger)

	authHandler := NewAuthHandler(authService, logger)
	roomHandler := NewRoomHandler(engine, logger)
	adminHandler := NewAdminHandler(engine, generator, logger)

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.POST("/auth/login", authHandler.Login)

	rooms := v1.Group("/rooms")
	rooms.Use(middleware.AuthMiddleware(jwtSvc))
	rooms.GET("", roomHandler.ListRooms)
	rooms.GET("/random", roomHandler.RandomAvailable)
	rooms.GET("/:roomId", roomHandler.GetRoom)
	rooms.POST("/:roomId/claim", roomHandler.ClaimRoom)
	rooms.POST("/:roomId/release", roomHandler.ReleaseRoom)
	rooms.PUT("/:roomId/lock", middleware.RequireAdmin(), roomHandler.SetLock)

	v1.GET("/snapshot", middleware.AuthMiddleware(jwtSvc), roomHandler.GetSnapshot)

	admin := v1.Group("/admin")
	admin.Use(middleware.AuthMiddleware(jwtSvc), middleware.RequireAdmin())
	admin.POST("/inventory/generate", adminHandler.GenerateInventory)
	admin.GET("/users", adminHandler.ListUsers)
	admin.POST("/users", adminHandler.AddUser)

	return &testAPI{router: router, jwtSvc: jwtSvc, store: store}
}

func (a *testAPI) token(t *testing.T, userID, name string, isAdmin bool) string {
	t.Helper()
	token, err := a.jwtSvc.GenerateSessionToken(userID, name, isAdmin)
	require.NoError(t, err)
	return token
}

func (a *testAPI) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	code, _ := body["code"].(string)
	return code
}

func TestLogin(t *testing.T) {
	api := setupTestAPI(t)

	// Buyer logs in with just the id
	w := api.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"user_id": "u-1"})
	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Token)
	assert.Equal(t, "u-1", body.User.ID)

	// Unknown user
	w = api.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"user_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Admin without the password
	w = api.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"user_id": "admin-1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Admin with the password
	w = api.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"user_id": "admin-1", "admin_password": "hunter2"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListAndGetRooms(t *testing.T) {
	api := setupTestAPI(t)
	token := api.token(t, "u-1", "张三", false)

	// Unauthenticated requests are rejected
	w := api.do(t, http.MethodGet, "/api/v1/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/rooms?building=1&floor=1", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Rooms []models.Room `json:"rooms"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)

	w = api.do(t, http.MethodGet, "/api/v1/rooms?floor=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))

	w = api.do(t, http.MethodGet, "/api/v1/rooms/1-1-01", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/rooms/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))
}

func TestClaimReleaseFlow(t *testing.T) {
	api := setupTestAPI(t)
	userToken := api.token(t, "u-1", "张三", false)
	adminToken := api.token(t, "admin-1", "系统管理员", true)

	// Claim
	w := api.do(t, http.MethodPost, "/api/v1/rooms/1-1-01/claim", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var room models.Room
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &room))
	assert.Equal(t, models.RoomStatusSelected, room.Status)

	// Second claim on another room exceeds the quota
	w = api.do(t, http.MethodPost, "/api/v1/rooms/1-1-02/claim", userToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "QUOTA_EXCEEDED", errorCode(t, w))

	// Someone else claiming the taken room
	w = api.do(t, http.MethodPost, "/api/v1/rooms/1-1-01/claim", adminToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ROOM_TAKEN", errorCode(t, w))

	// Release by a non-owner
	w = api.do(t, http.MethodPost, "/api/v1/rooms/1-1-01/release", adminToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NOT_OWNER", errorCode(t, w))

	// Release by the owner
	w = api.do(t, http.MethodPost, "/api/v1/rooms/1-1-01/release", userToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLockEndpoint(t *testing.T) {
	api := setupTestAPI(t)
	userToken := api.token(t, "u-1", "张三", false)
	adminToken := api.token(t, "admin-1", "系统管理员", true)

	// Regular user is stopped by the middleware
	w := api.do(t, http.MethodPut, "/api/v1/rooms/1-1-01/lock", userToken, gin.H{"locked": true})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Admin locks the room
	w = api.do(t, http.MethodPut, "/api/v1/rooms/1-1-01/lock", adminToken, gin.H{"locked": true})
	require.Equal(t, http.StatusOK, w.Code)

	// The locked room rejects claims
	w = api.do(t, http.MethodPost, "/api/v1/rooms/1-1-01/claim", userToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ROOM_LOCKED", errorCode(t, w))
}

func TestSnapshotAndRandom(t *testing.T) {
	api := setupTestAPI(t)
	token := api.token(t, "u-1", "张三", false)

	w := api.do(t, http.MethodGet, "/api/v1/snapshot", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snapshot models.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Len(t, snapshot.Rooms, 2)
	assert.Len(t, snapshot.Users, 2)

	w = api.do(t, http.MethodGet, "/api/v1/rooms/random", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var room models.Room
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &room))
	assert.Equal(t, models.RoomStatusAvailable, room.Status)
}

func TestAdminEndpoints(t *testing.T) {
	api := setupTestAPI(t)
	userToken := api.token(t, "u-1", "张三", false)
	adminToken := api.token(t, "admin-1", "系统管理员", true)

	// Regular user cannot reach admin routes
	w := api.do(t, http.MethodGet, "/api/v1/admin/users", userToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Add a user
	w = api.do(t, http.MethodPost, "/api/v1/admin/users", adminToken, gin.H{
		"name":           "李四",
		"phone":          "13987654321",
		"max_selections": 2,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 2, created.MaxSelections)

	// Roster search narrows by name or phone
	w = api.do(t, http.MethodGet, "/api/v1/admin/users?q=李四", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var roster struct {
		Users []models.User `json:"users"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roster))
	require.Equal(t, 1, roster.Count)
	assert.Equal(t, "李四", roster.Users[0].Name)

	w = api.do(t, http.MethodGet, "/api/v1/admin/users?q=13987", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roster))
	assert.Equal(t, 1, roster.Count)

	// Generate a fresh inventory
	w = api.do(t, http.MethodPost, "/api/v1/admin/inventory/generate", adminToken, gin.H{
		"building_count":      1,
		"floors_per_building": 2,
		"rooms_per_floor":     3,
		"base_area":           100,
		"building_prefix":     "B",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	rooms, err := api.store.ListRooms(database.RoomFilter{})
	require.NoError(t, err)
	assert.Len(t, rooms, 6)
}
