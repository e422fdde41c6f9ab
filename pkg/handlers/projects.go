package handlers

import (
	"context"
	"database/sql"
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/animagenius/animagenius-api/pkg/db/queries"
	"github.com/animagenius/animagenius-api/pkg/jobs"
	"github.com/animagenius/animagenius-api/pkg/storage"
	"github.com/animagenius/animagenius-api/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	extractionJobProvider = "openai"
	megabyte              = 1 << 20
)

// ProjectSummary is the list view of a project.
type ProjectSummary struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	Description  *string   `json:"description"`
	Status       string    `json:"status"`
	VideoURL     *string   `json:"videoUrl"`
	ThumbnailURL *string   `json:"thumbnailUrl"`
	Duration     *int32    `json:"duration"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ProjectDetail adds the pipeline state to the summary.
type ProjectDetail struct {
	ProjectSummary
	Settings       db.JSONB  `json:"settings"`
	FileURL        *string   `json:"fileUrl"`
	FileName       *string   `json:"fileName"`
	FileType       *string   `json:"fileType"`
	FileSize       *int64    `json:"fileSize"`
	AIBlueprint    db.JSONB  `json:"aiBlueprint"`
	Script         db.JSONB  `json:"script"`
	ProcessingLogs db.JSONB  `json:"processingLogs"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func newProjectSummary(p *db.Project) ProjectSummary {
	summary := ProjectSummary{
		ID:           p.ID,
		Title:        p.Title,
		Description:  nullString(p.Description),
		Status:       p.Status,
		VideoURL:     nullString(p.VideoURL),
		ThumbnailURL: nullString(p.ThumbnailURL),
		CreatedAt:    p.CreatedAt,
	}
	if p.Duration.Valid {
		d := p.Duration.Int32
		summary.Duration = &d
	}
	return summary
}

func newProjectDetail(p *db.Project) ProjectDetail {
	detail := ProjectDetail{
		ProjectSummary: newProjectSummary(p),
		Settings:       p.Settings,
		FileURL:        nullString(p.FileURL),
		FileName:       nullString(p.FileName),
		FileType:       nullString(p.FileType),
		AIBlueprint:    p.AIBlueprint,
		Script:         p.Script,
		ProcessingLogs: p.ProcessingLogs,
		UpdatedAt:      p.UpdatedAt,
	}
	if p.FileSize.Valid {
		size := p.FileSize.Int64
		detail.FileSize = &size
	}
	return detail
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func (h *Handlers) ListProjects(c *gin.Context) {
	user, ok := requireUser(c, "ListProjects")
	if !ok {
		return
	}
	projects, err := queries.FindProjectsByUserID(c.Request.Context(), user.ID)
	if err != nil {
		log.Errorf("ListProjects: Error retrieving projects for user ID '%s': %v", user.ID.String(), err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Failed to retrieve projects", nil)
		return
	}

	resp := make([]ProjectSummary, 0, len(projects))
	for i := range projects {
		resp = append(resp, newProjectSummary(&projects[i]))
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Projects retrieved successfully", gin.H{"projects": resp})
}

func (h *Handlers) GetProject(c *gin.Context) {
	user, ok := requireUser(c, "GetProject")
	if !ok {
		return
	}
	projectID, ok := parseIDParam(c, "GetProject")
	if !ok {
		return
	}

	project, err := queries.FindProjectByIDAndUser(c.Request.Context(), projectID, user.ID)
	if err != nil {
		log.Errorf("GetProject: Error retrieving project '%s': %v", projectID.String(), err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Failed to retrieve project", nil)
		return
	}
	if project == nil {
		utils.ResponseWithError(c, http.StatusNotFound, "Project not found", nil)
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Project retrieved successfully", gin.H{"project": newProjectDetail(project)})
}

func (h *Handlers) DeleteProject(c *gin.Context) {
	user, ok := requireUser(c, "DeleteProject")
	if !ok {
		return
	}
	projectID, ok := parseIDParam(c, "DeleteProject")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	fileName, err := queries.DeleteProject(ctx, projectID, user.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			utils.ResponseWithError(c, http.StatusNotFound, "Project not found", nil)
			return
		}
		log.Errorf("DeleteProject: Error deleting project '%s': %v", projectID.String(), err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Failed to delete project", nil)
		return
	}
	if fileName.Valid {
		key := storage.UploadKey(projectID, fileName.String)
		if err := h.Store.Delete(context.WithoutCancel(ctx), key); err != nil {
			log.Warnf("DeleteProject: could not remove %s: %v", key, err)
		}
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Project deleted successfully", nil)
}

// CreateProject accepts a multipart form with title, description, template
// and an optional file. An uploaded file is stored and queued for extraction.
func (h *Handlers) CreateProject(c *gin.Context) {
	ctx := c.Request.Context()
	user, ok := requireUser(c, "CreateProject")
	if !ok {
		return
	}

	if !user.CanCreateVideo() {
		log.Debugf("CreateProject: user %s reached the video limit (%d/%d)", user.Email, user.CurrentUsage.Videos, user.UsageLimits.Videos)
		utils.ResponseWithError(c, http.StatusForbidden, "Video limit reached for this month. Please upgrade your plan.", nil)
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		utils.ResponseWithError(c, http.StatusBadRequest, "Project title is required", nil)
		return
	}
	description := strings.TrimSpace(c.PostForm("description"))
	template := c.PostForm("template")

	file, err := c.FormFile("file")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		log.Debugf("CreateProject: invalid multipart upload: %v", err)
		utils.ResponseWithError(c, http.StatusBadRequest, "Invalid file upload", err.Error())
		return
	}
	if file != nil && user.UsageLimits.FileSize != db.Unlimited && file.Size > int64(user.UsageLimits.FileSize)*megabyte {
		log.Debugf("CreateProject: %s is %d bytes, over the %d MB limit of %s", file.Filename, file.Size, user.UsageLimits.FileSize, user.Email)
		utils.ResponseWithError(c, http.StatusRequestEntityTooLarge, "File exceeds the size limit of your plan", gin.H{"maxFileSizeMB": user.UsageLimits.FileSize})
		return
	}

	settings := gin.H{"template": template}
	if file != nil {
		settings["originalFileName"] = file.Filename
		settings["originalFileSize"] = file.Size
		settings["originalFileType"] = fileContentType(file)
	}
	settingsJSON, err := db.NewJSONB(settings)
	if err != nil {
		log.Errorf("CreateProject: encoding settings: %v", err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Internal server error", nil)
		return
	}

	project := &db.Project{
		UserID:   user.ID,
		Title:    title,
		Settings: settingsJSON,
	}
	if description != "" {
		project.Description = sql.NullString{String: description, Valid: true}
	}
	if _, err := queries.CreateProject(ctx, project); err != nil {
		log.Errorf("CreateProject: Error creating project for user ID '%s': %v", user.ID.String(), err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Failed to create project", nil)
		return
	}

	if file != nil {
		if err := h.attachUpload(c, project, file); err != nil {
			log.Errorf("CreateProject: upload for project %s failed: %v", project.ID.String(), err)
			h.markFailed(c, project.ID, err)
			utils.ResponseWithError(c, http.StatusInternalServerError, "Failed to store uploaded file", nil)
			return
		}
	}

	if err := queries.IncrementVideoUsage(ctx, user.ID); err != nil {
		log.Warnf("CreateProject: %v", err)
	}
	if err := queries.RecordUsage(ctx, user.ID, "project_created", gin.H{
		"projectId": project.ID.String(),
		"template":  template,
		"hasFile":   file != nil,
	}); err != nil {
		log.Warnf("CreateProject: %v", err)
	}

	log.Infof("CreateProject: project %s created for %s", project.ID.String(), user.Email)
	utils.ResponseWithSuccess(c, http.StatusCreated, "Project created successfully", gin.H{"projectId": project.ID})
}

// attachUpload stores the file, records it on the project and queues the
// extraction job.
func (h *Handlers) attachUpload(c *gin.Context, project *db.Project, file *multipart.FileHeader) error {
	ctx := c.Request.Context()
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	contentType := fileContentType(file)
	key := storage.UploadKey(project.ID, file.Filename)
	url, err := h.Store.Put(ctx, key, src, file.Size, contentType)
	if err != nil {
		return err
	}

	project.Status = db.ProjectStatusProcessing
	project.FileURL = sql.NullString{String: url, Valid: true}
	project.FileName = sql.NullString{String: filepath.Base(file.Filename), Valid: true}
	project.FileType = sql.NullString{String: contentType, Valid: true}
	project.FileSize = sql.NullInt64{Int64: file.Size, Valid: true}
	if err := queries.UpdateProject(ctx, project); err != nil {
		return err
	}

	input, err := db.NewJSONB(jobs.ExtractionInput{
		FileName:  project.FileName.String,
		FileType:  contentType,
		FileSize:  file.Size,
		ObjectKey: key,
	})
	if err != nil {
		return err
	}
	_, err = queries.CreateJob(ctx, &db.AIProcessingJob{
		ProjectID: project.ID,
		Type:      db.JobTypeExtractContent,
		Input:     input,
		Provider:  extractionJobProvider,
	})
	return err
}

func fileContentType(file *multipart.FileHeader) string {
	if ct := file.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// markFailed sets the project to failed with the error in its processing logs.
func (h *Handlers) markFailed(c *gin.Context, projectID uuid.UUID, cause error) {
	logs, err := db.NewJSONB(gin.H{"error": cause.Error(), "timestamp": h.now().UTC().Format(time.RFC3339)})
	if err != nil {
		log.Errorf("markFailed: %v", err)
		return
	}
	if err := queries.SetProjectStatus(context.WithoutCancel(c.Request.Context()), projectID, db.ProjectStatusFailed, logs); err != nil {
		log.Errorf("markFailed: project %s: %v", projectID.String(), err)
	}
}
