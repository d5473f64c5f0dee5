package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gavel-oj/gavel/internal/archive"
	"github.com/gavel-oj/gavel/internal/auth"
	"github.com/gavel-oj/gavel/internal/submissions"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	viewerContextKey = "gavel_viewer"
	roleContextKey   = "gavel_role"
)

var (
	errMissingSubmissionsService = errors.New("submissions service dependency required")
	errMissingTokenIssuer        = errors.New("token issuer dependency required")
	errInvalidAuthorization      = errors.New("authorization header missing or invalid")
)

// Dependencies wires the HTTP surface to the lifecycle core.
type Dependencies struct {
	Submissions *submissions.Service
	Tokens      *auth.TokenIssuer
	Blobs       *archive.FSStore
	Dispatcher  *JudgmentDispatcher
	Logger      *zap.Logger
}

// NewHTTPHandler assembles the gin router for the judging API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Submissions == nil {
		return nil, errMissingSubmissionsService
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewJudgmentDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		service:    deps.Submissions,
		tokens:     deps.Tokens,
		blobs:      deps.Blobs,
		dispatcher: dispatcher,
		logger:     logger,
	}

	router.GET("/submissions/:id", handler.identifyViewer, handler.handleGetSubmission)
	router.GET("/submissions/:id/watch", handler.handleWatchSubmission)

	judger := router.Group("/judger")
	judger.Use(handler.requireRole(auth.RoleJudger))
	judger.POST("/judged", handler.handleJudged)

	users := router.Group("/")
	users.Use(handler.requireRole(auth.RoleUser, auth.RoleAdmin))
	users.POST("/submissions", handler.handleUpload)

	admin := router.Group("/admin")
	admin.Use(handler.requireRole(auth.RoleAdmin))
	admin.POST("/submissions/:id/rejudge", handler.handleRejudgeSubmission)
	admin.POST("/problems/:id/rejudge", handler.handleRejudgeProblem)
	admin.DELETE("/submissions/:id", handler.handleDeleteSubmission)
	admin.DELETE("/submissions/:id/judgments/:tid", handler.handleDeleteMinorVersion)

	return router, nil
}

type httpHandler struct {
	service    *submissions.Service
	tokens     *auth.TokenIssuer
	blobs      *archive.FSStore
	dispatcher *JudgmentDispatcher
	logger     *zap.Logger
}

// identifyViewer resolves an optional bearer token into a Viewer. Anonymous
// requests proceed; visibility checks downgrade what they see.
func (h *httpHandler) identifyViewer(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.Next()
		return
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		c.Next()
		return
	}
	subject, role, err := h.tokens.Validate(token)
	if err != nil {
		c.Next()
		return
	}
	c.Set(viewerContextKey, submissions.Viewer{Username: subject})
	c.Set(roleContextKey, role)
	c.Next()
}

func (h *httpHandler) requireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}
		subject, role, err := h.tokens.Validate(token)
		if err != nil {
			h.logger.Warn("token rejected", zap.Error(errors.Join(errInvalidAuthorization, err)))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}
		allowed := false
		for _, candidate := range roles {
			if role == candidate {
				allowed = true
				break
			}
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Set(viewerContextKey, submissions.Viewer{Username: subject})
		c.Set(roleContextKey, role)
		c.Next()
	}
}

func (h *httpHandler) viewer(c *gin.Context) submissions.Viewer {
	if value, ok := c.Get(viewerContextKey); ok {
		if viewer, ok := value.(submissions.Viewer); ok {
			return viewer
		}
	}
	return submissions.Viewer{}
}

type judgedRequest struct {
	SubmissionID uint64                   `json:"id" binding:"required"`
	JudgeTime    time.Time                `json:"judge_time" binding:"required"`
	Result       submissions.JudgeOutcome `json:"result"`
}

// handleJudged is the judger-pool callback. NotFound and token mismatches are
// expected terminal outcomes for a callback; the judger must not retry them.
func (h *httpHandler) handleJudged(c *gin.Context) {
	var request judgedRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	err := h.service.OnJudged(c.Request.Context(), request.SubmissionID, request.Result, request.JudgeTime)
	if err != nil {
		switch {
		case errors.Is(err, submissions.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "submission_not_found"})
		case errors.Is(err, submissions.ErrTokenMismatch):
			c.JSON(http.StatusConflict, gin.H{"error": "judge_time_mismatch"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": serviceErrorCode(err)})
		}
		return
	}

	h.dispatcher.Publish(JudgmentEvent{
		SubmissionID: request.SubmissionID,
		EventType:    EventJudged,
		Status:       string(submissions.StatusJudged),
		Timestamp:    time.Now().UTC(),
	})
	c.JSON(http.StatusOK, gin.H{"applied": true})
}

// handleGetSubmission resolves the requested version (live, ?time= major
// snapshot, or ?tid= minor annotation) and renders it for the viewer.
func (h *httpHandler) handleGetSubmission(c *gin.Context) {
	id, err := submissions.ParseSubmissionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_submission_id"})
		return
	}
	live, err := h.service.Query(c.Request.Context(), id.Uint64())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": serviceErrorCode(err)})
		return
	}
	if live == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "submission_not_found"})
		return
	}

	viewer := h.viewer(c)
	view := submissions.NewView(*live)

	if raw := c.Query("time"); raw != "" {
		view, err = h.service.LoadHistoryByTime(c.Request.Context(), live, raw)
	} else if raw := c.Query("tid"); raw != "" {
		tid, parseErr := submissions.ParseRecordID(raw)
		if parseErr != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "version_not_found"})
			return
		}
		view, err = h.service.LoadHistoryByTID(c.Request.Context(), live, tid.Uint64())
		if err == nil && view != nil && !h.service.UserCanSeeMinorVersions(c.Request.Context(), view, viewer) {
			view = nil
		}
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": serviceErrorCode(err)})
		return
	}
	if view == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "version_not_found"})
		return
	}

	c.JSON(http.StatusOK, h.renderView(c, view, viewer))
}

func (h *httpHandler) renderView(c *gin.Context, view *submissions.View, viewer submissions.Viewer) gin.H {
	body := gin.H{
		"id":         view.Live.ID,
		"problem_id": view.Live.ProblemID,
		"submitter":  view.Live.Submitter,
		"language":   view.Live.Language,
		"status":     view.Status(),
		"is_latest":  view.IsLatest(),
		"is_major":   view.IsMajor(),
		"uri":        view.URI(),
		"tot_size":   view.Live.TotSize,
	}
	if view.Live.ContestID != nil {
		body["contest_id"] = *view.Live.ContestID
	}
	if judgeTime := view.JudgeTime(); judgeTime != nil {
		body["judge_time"] = judgeTime.UTC().Format(time.RFC3339)
	}
	if resultError := view.ResultError(); resultError != nil {
		body["result_error"] = *resultError
	}
	if h.service.ViewerCanSeeScore(c.Request.Context(), view, viewer) {
		body["score_visible"] = true
		if score := view.ActualScore(); score != nil {
			body["score"] = *score
		}
	} else {
		body["score_visible"] = false
	}
	return body
}

// handleWatchSubmission streams judgment events for one submission as
// newline-delimited JSON until the client goes away.
func (h *httpHandler) handleWatchSubmission(c *gin.Context) {
	id, err := submissions.ParseSubmissionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_submission_id"})
		return
	}
	events, cleanup := h.dispatcher.Subscribe(c.Request.Context(), id.Uint64())
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(event.EventType, gin.H{
				"submission_id": event.SubmissionID,
				"status":        event.Status,
				"timestamp":     event.Timestamp.Format(time.RFC3339),
			})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// handleUpload stores the archive blob, then creates the Waiting submission
// row. An insert failure cleans up the blob server-side.
func (h *httpHandler) handleUpload(c *gin.Context) {
	if h.blobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads_disabled"})
		return
	}
	problemID, err := strconv.ParseUint(c.PostForm("problem_id"), 10, 64)
	if err != nil || problemID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_problem_id"})
		return
	}
	var contestID *uint64
	if raw := c.PostForm("contest_id"); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || value == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_contest_id"})
			return
		}
		contestID = &value
	}
	language := c.PostForm("language")
	if language == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_language"})
		return
	}

	fileHeader, err := c.FormFile("archive")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_archive"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_archive"})
		return
	}
	defer file.Close()

	blobName, size, err := h.blobs.Save(file)
	if err != nil {
		h.logger.Error("archive store failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "archive_store_failed"})
		return
	}

	viewer := h.viewer(c)
	submission, err := h.service.OnUpload(c.Request.Context(), &submissions.Archive{
		Content:   map[string]any{},
		BlobName:  blobName,
		TotalSize: size,
	}, submissions.UploadOptions{
		ProblemID: problemID,
		ContestID: contestID,
		Submitter: viewer.Username,
		Language:  language,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": serviceErrorCode(err)})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": submission.ID, "status": submission.Status})
}

type rejudgeRequest struct {
	ReasonText string `json:"reason_text"`
	ReasonURL  string `json:"reason_url"`
	Minor      bool   `json:"minor"`
}

func (h *httpHandler) handleRejudgeSubmission(c *gin.Context) {
	id, err := submissions.ParseSubmissionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_submission_id"})
		return
	}
	live, err := h.service.Query(c.Request.Context(), id.Uint64())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": serviceErrorCode(err)})
		return
	}
	if live == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "submission_not_found"})
		return
	}

	var request rejudgeRequest
	_ = c.ShouldBindJSON(&request)

	viewer := h.viewer(c)
	report, err := h.service.Rejudge(c.Request.Context(), live, submissions.RejudgeOptions{
		ReasonText: request.ReasonText,
		ReasonURL:  request.ReasonURL,
		Requestor:  viewer.Username,
		Minor:      request.Minor,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": serviceErrorCode(err)})
		return
	}
	h.dispatcher.Publish(JudgmentEvent{
		SubmissionID: live.ID,
		EventType:    EventRejudge,
		Status:       string(submissions.StatusWaitingRejudge),
		Timestamp:    time.Now().UTC(),
	})
	c.JSON(http.StatusOK, rejudgeReportBody(report))
}

func (h *httpHandler) handleRejudgeProblem(c *gin.Context) {
	problemID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || problemID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_problem_id"})
		return
	}

	var request rejudgeRequest
	_ = c.ShouldBindJSON(&request)

	viewer := h.viewer(c)
	opts := submissions.RejudgeOptions{
		ReasonText: request.ReasonText,
		ReasonURL:  request.ReasonURL,
		Requestor:  viewer.Username,
		Minor:      request.Minor,
	}

	var report submissions.RejudgeReport
	switch c.DefaultQuery("filter", "all") {
	case "all":
		report, err = h.service.RejudgeProblem(c.Request.Context(), problemID, opts)
	case "ac":
		report, err = h.service.RejudgeProblemAC(c.Request.Context(), problemID, opts)
	case "ge97":
		report, err = h.service.RejudgeProblemGe97(c.Request.Context(), problemID, opts)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filter"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": serviceErrorCode(err)})
		return
	}
	c.JSON(http.StatusOK, rejudgeReportBody(report))
}

func (h *httpHandler) handleDeleteSubmission(c *gin.Context) {
	id, err := submissions.ParseSubmissionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_submission_id"})
		return
	}
	live, err := h.service.Query(c.Request.Context(), id.Uint64())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": serviceErrorCode(err)})
		return
	}
	if live == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "submission_not_found"})
		return
	}
	if err := h.service.Delete(c.Request.Context(), live); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": serviceErrorCode(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *httpHandler) handleDeleteMinorVersion(c *gin.Context) {
	id, err := submissions.ParseSubmissionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_submission_id"})
		return
	}
	tid, err := submissions.ParseRecordID(c.Param("tid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_record_id"})
		return
	}
	live, err := h.service.Query(c.Request.Context(), id.Uint64())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": serviceErrorCode(err)})
		return
	}
	if live == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "submission_not_found"})
		return
	}
	view, err := h.service.LoadHistoryByTID(c.Request.Context(), live, tid.Uint64())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": serviceErrorCode(err)})
		return
	}
	if view == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "version_not_found"})
		return
	}
	if err := h.service.DeleteThisMinorVersion(c.Request.Context(), view); err != nil {
		if errors.Is(err, submissions.ErrMajorVersion) {
			c.JSON(http.StatusConflict, gin.H{"error": "not_a_minor_version"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": serviceErrorCode(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func rejudgeReportBody(report submissions.RejudgeReport) gin.H {
	return gin.H{
		"targets":        report.Targets,
		"batches":        report.Batches,
		"failed_batches": report.FailedBatches,
		"snapshots":      report.Snapshots,
	}
}

func serviceErrorCode(err error) string {
	var serviceErr *submissions.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return "internal_error"
}
