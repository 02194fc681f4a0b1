package handlers

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/primeestate/room-selection-backend/internal/middleware"
	"github.com/primeestate/room-selection-backend/internal/models"
	"github.com/primeestate/room-selection-backend/internal/services"
	"github.com/primeestate/room-selection-backend/pkg/validator"
)

// AdminHandler handles inventory and roster management endpoints. All of
// its routes sit behind the admin middleware; the engine re-checks the
// acting user on every mutation anyway.
type AdminHandler struct {
	engine    *services.AllocationService
	generator *services.GeneratorService
	phones    *validator.PhoneValidator
	logger    *logrus.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(engine *services.AllocationService, generator *services.GeneratorService, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		engine:    engine,
		generator: generator,
		phones:    validator.NewPhoneValidator(),
		logger:    logger,
	}
}

// replaceInventoryRequest wraps a full inventory submission
type replaceInventoryRequest struct {
	Rooms []models.Room `json:"rooms" binding:"required"`
}

// replaceUsersRequest wraps a full roster submission
type replaceUsersRequest struct {
	Users []models.User `json:"users" binding:"required"`
}

// ===========================================================================
// INVENTORY ENDPOINTS
// ===========================================================================

// GenerateInventory builds and installs a uniform grid inventory
// POST /api/v1/admin/inventory/generate
func (h *AdminHandler) GenerateInventory(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var cfg models.GenerateConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
			"code":    "VALIDATION_ERROR",
		})
		return
	}

	rooms := h.generator.Generate(cfg)
	if err := h.engine.BulkReplaceInventory(rooms, userCtx.UserID); err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":     "Inventory generated",
		"rooms_count": len(rooms),
	})
}

// GeneratePresetInventory installs the fixed launch-project layout
// POST /api/v1/admin/inventory/generate-preset
func (h *AdminHandler) GeneratePresetInventory(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	rooms := h.generator.GeneratePreset()
	if err := h.engine.BulkReplaceInventory(rooms, userCtx.UserID); err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":     "Preset inventory generated",
		"rooms_count": len(rooms),
	})
}

// ReplaceInventory swaps the entire inventory from a JSON submission
// PUT /api/v1/admin/inventory
func (h *AdminHandler) ReplaceInventory(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var req replaceInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
			"code":    "VALIDATION_ERROR",
		})
		return
	}

	if err := h.engine.BulkReplaceInventory(req.Rooms, userCtx.UserID); err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Inventory replaced",
		"rooms_count": len(req.Rooms),
	})
}

// ExportInventory downloads the inventory as CSV
// GET /api/v1/admin/inventory/export
func (h *AdminHandler) ExportInventory(c *gin.Context) {
	snapshot, err := h.engine.Snapshot()
	if err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	data, err := services.ExportInventoryCSV(snapshot.Rooms, snapshot.Users)
	if err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="rooms.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// ImportInventory replaces the inventory from an uploaded CSV file.
// A single bad row rejects the whole file.
// POST /api/v1/admin/inventory/import
func (h *AdminHandler) ImportInventory(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	file, err := openUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
			"code":    "VALIDATION_ERROR",
		})
		return
	}
	defer file.Close()

	rooms, newUsers, rowErrs := services.ImportInventoryCSV(file)
	if len(rowErrs) > 0 {
		problems := make([]string, len(rowErrs))
		for i, re := range rowErrs {
			problems[i] = re.Error()
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "validation_failed",
			"message":  "The uploaded CSV contains invalid rows",
			"code":     "VALIDATION_ERROR",
			"problems": problems,
		})
		return
	}

	if err := h.engine.ImportInventory(rooms, newUsers, userCtx.UserID); err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Inventory imported",
		"rooms_count": len(rooms),
		"users_added": len(newUsers),
	})
}

// ===========================================================================
// ROSTER ENDPOINTS
// ===========================================================================

// ListUsers returns the roster, optionally narrowed by a name/phone search
// GET /api/v1/admin/users?q=
func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.engine.ListUsers()
	if err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	if q := strings.TrimSpace(c.Query("q")); q != "" {
		matched := make([]models.User, 0, len(users))
		for _, u := range users {
			if strings.Contains(u.Name, q) || strings.Contains(u.Phone, q) {
				matched = append(matched, u)
			}
		}
		users = matched
	}

	c.JSON(http.StatusOK, gin.H{
		"users": users,
		"count": len(users),
	})
}

// AddUser registers a single customer
// POST /api/v1/admin/users
func (h *AdminHandler) AddUser(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var req models.AddUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
			"code":    "VALIDATION_ERROR",
		})
		return
	}

	phone, err := h.phones.Validate(req.Phone)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": fmt.Sprintf("invalid phone: %v", err),
			"code":    "VALIDATION_ERROR",
		})
		return
	}

	user := models.User{
		ID:            "u-" + uuid.NewString(),
		Name:          req.Name,
		Phone:         phone,
		MaxSelections: req.MaxSelections,
	}

	created, err := h.engine.AddUser(user, userCtx.UserID)
	if err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

// ReplaceUsers swaps the entire roster from a JSON submission
// PUT /api/v1/admin/users
func (h *AdminHandler) ReplaceUsers(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var req replaceUsersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
			"code":    "VALIDATION_ERROR",
		})
		return
	}

	if err := h.engine.BulkReplaceUsers(req.Users, userCtx.UserID); err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Roster replaced",
		"users_count": len(req.Users),
	})
}

// ExportUsers downloads the roster as an xlsx workbook
// GET /api/v1/admin/users/export
func (h *AdminHandler) ExportUsers(c *gin.Context) {
	users, err := h.engine.ListUsers()
	if err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	data, err := services.ExportRosterExcel(users)
	if err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="users.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// ImportUsers replaces the roster from an uploaded xlsx workbook
// POST /api/v1/admin/users/import
func (h *AdminHandler) ImportUsers(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	file, err := openUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
			"code":    "VALIDATION_ERROR",
		})
		return
	}
	defer file.Close()

	users, rowErrs, err := services.ImportRosterExcel(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
			"code":    "VALIDATION_ERROR",
		})
		return
	}
	if len(rowErrs) > 0 {
		problems := make([]string, len(rowErrs))
		for i, re := range rowErrs {
			problems[i] = re.Error()
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "validation_failed",
			"message":  "The uploaded workbook contains invalid rows",
			"code":     "VALIDATION_ERROR",
			"problems": problems,
		})
		return
	}

	if err := h.engine.BulkReplaceUsers(users, userCtx.UserID); err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Roster imported",
		"users_count": len(users),
	})
}

// openUpload returns the uploaded file from the "file" form field
func openUpload(c *gin.Context) (multipart.File, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("a file upload named %q is required", "file")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	return file, nil
}
