package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"taskhub/api/internal/auth"
)

const identityKey = "identity"

type HTTPServer struct {
	service     *Service
	corsOrigin  string
	tokenSecret []byte
}

func NewHTTPServer(service *Service, corsOrigin string, tokenSecret []byte) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, tokenSecret: tokenSecret}
}

func (s *HTTPServer) Handler() http.Handler {
	r := gin.New()
	r.MaxMultipartMemory = MaxAttachmentSize
	r.Use(requestLogger(), gin.Recovery())
	r.Use(cors.New(s.corsConfig()))

	r.GET("/api/health", s.handleHealth)
	r.HEAD("/api/health", s.handleHealth)

	api := r.Group("/api", s.requireIdentity())

	api.POST("/workspaces", s.handleCreateWorkspace)
	api.POST("/workspaces/:id/projects", s.handleCreateProject)
	api.POST("/workspaces/:id/invitations", s.handleCreateInvitation)
	api.GET("/workspaces/:id/invitations", s.handleListInvitations)
	api.DELETE("/workspaces/:id/members/:userID", s.handleRemoveMember)

	api.DELETE("/projects/:id", s.handleDeleteProject)
	api.GET("/projects/:id/board", s.handleBoard)
	api.POST("/projects/:id/issues", s.handleCreateIssue)
	api.GET("/projects/:id/search", s.handleSearch)
	api.POST("/projects/:id/filters", s.handleCreateFilter)

	api.POST("/issues/bulk/:op", s.handleBulk)
	api.PATCH("/issues/:id", s.handleUpdateIssue)
	api.DELETE("/issues/:id", s.handleDeleteIssue)
	api.POST("/issues/:id/move", s.handleMoveIssue)
	api.POST("/issues/:id/subtasks", s.handleCreateSubtask)
	api.POST("/issues/:id/comments", s.handleCreateComment)
	api.POST("/issues/:id/attachments", s.handleUploadAttachment)

	api.PATCH("/comments/:id", s.handleUpdateComment)
	api.DELETE("/comments/:id", s.handleDeleteComment)
	api.DELETE("/attachments/:id", s.handleDeleteAttachment)

	api.DELETE("/invitations/:id", s.handleCancelInvitation)
	api.POST("/invitations/:token/respond", s.handleRespondInvitation)

	api.PATCH("/filters/:id", s.handleUpdateFilter)
	api.DELETE("/filters/:id", s.handleDeleteFilter)

	api.GET("/notifications", s.handleListNotifications)
	api.POST("/notifications/read-all", s.handleReadAllNotifications)
	api.POST("/notifications/:id/read", s.handleReadNotification)

	return r
}

func (s *HTTPServer) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "HEAD", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if s.corsOrigin == "" || s.corsOrigin == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = strings.Split(s.corsOrigin, ",")
		cfg.AllowCredentials = true
	}
	return cfg
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		started := time.Now()
		c.Next()

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(started).Milliseconds(),
		)
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func (s *HTTPServer) requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if token == "" {
			abortError(c, unauthorized())
			return
		}
		claims, err := auth.ParseToken(s.tokenSecret, token)
		if err != nil {
			abortError(c, unauthorized())
			return
		}
		id, err := s.service.Identify(c.Request.Context(), claims.Identity())
		if err != nil {
			abortError(c, err)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identity(c *gin.Context) auth.Identity {
	if value, ok := c.Get(identityKey); ok {
		if id, ok := value.(auth.Identity); ok {
			return id
		}
	}
	return auth.Identity{}
}

func (s *HTTPServer) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.service.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ok":     false,
			"checks": gin.H{"database": gin.H{"status": "error", "error": err.Error()}},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "checks": gin.H{"database": gin.H{"status": "ok"}}})
}

func (s *HTTPServer) handleCreateWorkspace(c *gin.Context) {
	var body CreateWorkspaceInput
	if !bindBody(c, &body) {
		return
	}
	ws, err := s.service.CreateWorkspace(c.Request.Context(), identity(c), body)
	respond(c, http.StatusCreated, ws, err)
}

func (s *HTTPServer) handleCreateProject(c *gin.Context) {
	var body CreateProjectInput
	if !bindBody(c, &body) {
		return
	}
	project, err := s.service.CreateProject(c.Request.Context(), identity(c), c.Param("id"), body)
	respond(c, http.StatusCreated, project, err)
}

func (s *HTTPServer) handleDeleteProject(c *gin.Context) {
	err := s.service.DeleteProject(c.Request.Context(), identity(c), c.Param("id"))
	respondNoContent(c, err)
}

func (s *HTTPServer) handleBoard(c *gin.Context) {
	board, err := s.service.GetBoard(c.Request.Context(), identity(c), c.Param("id"))
	respond(c, http.StatusOK, board, err)
}

func (s *HTTPServer) handleCreateIssue(c *gin.Context) {
	var body CreateIssueInput
	if !bindBody(c, &body) {
		return
	}
	body.ProjectID = c.Param("id")
	issue, err := s.service.CreateIssue(c.Request.Context(), identity(c), body)
	respond(c, http.StatusCreated, issue, err)
}

func (s *HTTPServer) handleSearch(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	result, err := s.service.SearchIssues(c.Request.Context(), identity(c), c.Param("id"), SearchInput{
		Text:   c.Query("q"),
		Status: c.Query("status"),
		Limit:  limit,
		Offset: offset,
	})
	respond(c, http.StatusOK, result, err)
}

func (s *HTTPServer) handleUpdateIssue(c *gin.Context) {
	var body UpdateIssueInput
	if !bindBody(c, &body) {
		return
	}
	issue, err := s.service.UpdateIssue(c.Request.Context(), identity(c), c.Param("id"), body)
	respond(c, http.StatusOK, issue, err)
}

func (s *HTTPServer) handleDeleteIssue(c *gin.Context) {
	err := s.service.DeleteIssue(c.Request.Context(), identity(c), c.Param("id"))
	respondNoContent(c, err)
}

// handleMoveIssue accepts either an explicit order or a destination index.
func (s *HTTPServer) handleMoveIssue(c *gin.Context) {
	var body struct {
		Status string   `json:"status"`
		Order  *float64 `json:"order"`
		Index  *int     `json:"index"`
	}
	if !bindBody(c, &body) {
		return
	}
	ctx := c.Request.Context()
	switch {
	case body.Order != nil:
		issue, err := s.service.MoveIssue(ctx, identity(c), c.Param("id"), body.Status, *body.Order)
		respond(c, http.StatusOK, issue, err)
	case body.Index != nil:
		issue, err := s.service.MoveIssueToIndex(ctx, identity(c), c.Param("id"), body.Status, *body.Index)
		respond(c, http.StatusOK, issue, err)
	default:
		writeAppError(c, validation("Either order or index is required"))
	}
}

func (s *HTTPServer) handleCreateSubtask(c *gin.Context) {
	var body CreateIssueInput
	if !bindBody(c, &body) {
		return
	}
	issue, err := s.service.CreateSubtask(c.Request.Context(), identity(c), c.Param("id"), body)
	respond(c, http.StatusCreated, issue, err)
}

func (s *HTTPServer) handleBulk(c *gin.Context) {
	var body struct {
		IssueIDs   []string `json:"issueIds"`
		Status     string   `json:"status"`
		Priority   string   `json:"priority"`
		AssigneeID *string  `json:"assigneeId"`
	}
	if !bindBody(c, &body) {
		return
	}
	ctx := c.Request.Context()
	id := identity(c)

	var (
		result BulkResult
		err    error
	)
	switch c.Param("op") {
	case "status":
		result, err = s.service.BulkUpdateStatus(ctx, id, body.IssueIDs, body.Status)
	case "assign":
		result, err = s.service.BulkAssign(ctx, id, body.IssueIDs, body.AssigneeID)
	case "priority":
		result, err = s.service.BulkUpdatePriority(ctx, id, body.IssueIDs, body.Priority)
	case "delete":
		result, err = s.service.BulkDelete(ctx, id, body.IssueIDs)
	default:
		writeAppError(c, notFound("Unknown bulk operation"))
		return
	}
	respond(c, http.StatusOK, result, err)
}

func (s *HTTPServer) handleCreateComment(c *gin.Context) {
	var body CommentInput
	if !bindBody(c, &body) {
		return
	}
	comment, err := s.service.CreateComment(c.Request.Context(), identity(c), c.Param("id"), body)
	respond(c, http.StatusCreated, comment, err)
}

func (s *HTTPServer) handleUpdateComment(c *gin.Context) {
	var body CommentInput
	if !bindBody(c, &body) {
		return
	}
	comment, err := s.service.UpdateComment(c.Request.Context(), identity(c), c.Param("id"), body)
	respond(c, http.StatusOK, comment, err)
}

func (s *HTTPServer) handleDeleteComment(c *gin.Context) {
	err := s.service.DeleteComment(c.Request.Context(), identity(c), c.Param("id"))
	respondNoContent(c, err)
}

func (s *HTTPServer) handleUploadAttachment(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		writeAppError(c, validation("File is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		writeAppError(c, internal(err))
		return
	}
	defer file.Close()

	attachment, err := s.service.UploadAttachment(c.Request.Context(), identity(c), c.Param("id"), UploadInput{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	respond(c, http.StatusCreated, attachment, err)
}

func (s *HTTPServer) handleDeleteAttachment(c *gin.Context) {
	err := s.service.DeleteAttachment(c.Request.Context(), identity(c), c.Param("id"))
	respondNoContent(c, err)
}

func (s *HTTPServer) handleCreateInvitation(c *gin.Context) {
	var body CreateInvitationInput
	if !bindBody(c, &body) {
		return
	}
	inv, err := s.service.CreateInvitation(c.Request.Context(), identity(c), c.Param("id"), body)
	respond(c, http.StatusCreated, inv, err)
}

func (s *HTTPServer) handleListInvitations(c *gin.Context) {
	invitations, err := s.service.ListInvitations(c.Request.Context(), identity(c), c.Param("id"))
	respond(c, http.StatusOK, gin.H{"invitations": invitations}, err)
}

func (s *HTTPServer) handleCancelInvitation(c *gin.Context) {
	err := s.service.CancelInvitation(c.Request.Context(), identity(c), c.Param("id"))
	respondNoContent(c, err)
}

func (s *HTTPServer) handleRespondInvitation(c *gin.Context) {
	var body struct {
		Accept *bool `json:"accept"`
	}
	if !bindBody(c, &body) {
		return
	}
	if body.Accept == nil {
		writeAppError(c, validation("accept is required"))
		return
	}
	result, err := s.service.RespondToInvitation(c.Request.Context(), identity(c), c.Param("token"), *body.Accept)
	respond(c, http.StatusOK, result, err)
}

func (s *HTTPServer) handleRemoveMember(c *gin.Context) {
	err := s.service.RemoveMember(c.Request.Context(), identity(c), c.Param("id"), c.Param("userID"))
	respondNoContent(c, err)
}

func (s *HTTPServer) handleCreateFilter(c *gin.Context) {
	var body SavedFilterInput
	if !bindBody(c, &body) {
		return
	}
	filter, err := s.service.CreateSavedFilter(c.Request.Context(), identity(c), c.Param("id"), body)
	respond(c, http.StatusCreated, filter, err)
}

func (s *HTTPServer) handleUpdateFilter(c *gin.Context) {
	var body UpdateSavedFilterInput
	if !bindBody(c, &body) {
		return
	}
	filter, err := s.service.UpdateSavedFilter(c.Request.Context(), identity(c), c.Param("id"), body)
	respond(c, http.StatusOK, filter, err)
}

func (s *HTTPServer) handleDeleteFilter(c *gin.Context) {
	err := s.service.DeleteSavedFilter(c.Request.Context(), identity(c), c.Param("id"))
	respondNoContent(c, err)
}

func (s *HTTPServer) handleListNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := s.service.ListNotifications(c.Request.Context(), identity(c), limit)
	respond(c, http.StatusOK, gin.H{"notifications": items}, err)
}

func (s *HTTPServer) handleReadNotification(c *gin.Context) {
	err := s.service.MarkNotificationRead(c.Request.Context(), identity(c), c.Param("id"))
	respondNoContent(c, err)
}

func (s *HTTPServer) handleReadAllNotifications(c *gin.Context) {
	count, err := s.service.MarkAllNotificationsRead(c.Request.Context(), identity(c))
	respond(c, http.StatusOK, gin.H{"count": count}, err)
}

func bindBody(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func respond(c *gin.Context, status int, payload any, err error) {
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(status, payload)
}

func respondNoContent(c *gin.Context, err error) {
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, status int, code, message string, details any) {
	response := gin.H{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	c.JSON(status, response)
}

func writeAppError(c *gin.Context, err error) {
	status, code, message, details := mapError(err)
	writeError(c, status, code, message, details)
}

func abortError(c *gin.Context, err error) {
	writeAppError(c, err)
	c.Abort()
}

func statusFor(kind ErrorKind) int {
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return statusFor(appErr.Kind), appErr.Kind.String(), appErr.Message, appErr.Details
	}
	log.Printf("app: unmapped error: %v", err)
	return http.StatusInternalServerError, KindInternal.String(), "Something went wrong", nil
}
