package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/animagenius/animagenius-api/pkg/db/queries"
	"github.com/animagenius/animagenius-api/pkg/jobs"
	"github.com/animagenius/animagenius-api/pkg/services"
	"github.com/animagenius/animagenius-api/pkg/storage"
	"github.com/animagenius/animagenius-api/pkg/utils"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type GenerateRequest struct {
	Preferences services.BlueprintPreferences `json:"preferences"`
}

// renderError marks failures of the rendering step, whose message is returned
// to the caller.
type renderError struct{ err error }

func (e renderError) Error() string { return e.err.Error() }
func (e renderError) Unwrap() error { return e.err }

// GenerateVideo runs extraction, blueprint and rendering for a project and
// responds once the video URL is known.
func (h *Handlers) GenerateVideo(c *gin.Context) {
	ctx := c.Request.Context()
	user, ok := requireUser(c, "GenerateVideo")
	if !ok {
		return
	}
	projectID, ok := parseIDParam(c, "GenerateVideo")
	if !ok {
		return
	}

	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Debugf("GenerateVideo: Invalid request body: %v", err)
		utils.ResponseWithError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	project, err := queries.FindProjectByIDAndUser(ctx, projectID, user.ID)
	if err != nil {
		log.Errorf("GenerateVideo: Error retrieving project '%s': %v", projectID.String(), err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Video generation failed", nil)
		return
	}
	if project == nil {
		utils.ResponseWithError(c, http.StatusNotFound, "Project not found", nil)
		return
	}
	if project.IsBusy() {
		log.Debugf("GenerateVideo: project %s is %s", project.ID.String(), project.Status)
		utils.ResponseWithError(c, http.StatusBadRequest, "Project is already being processed", nil)
		return
	}
	claimed, err := queries.ClaimProjectForProcessing(ctx, project.ID, user.ID)
	if err != nil {
		log.Errorf("GenerateVideo: Error claiming project '%s': %v", project.ID.String(), err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Video generation failed", nil)
		return
	}
	if !claimed {
		log.Debugf("GenerateVideo: project %s was claimed by another request", project.ID.String())
		utils.ResponseWithError(c, http.StatusBadRequest, "Project is already being processed", nil)
		return
	}
	project.Status = db.ProjectStatusProcessing

	result, blueprint, err := h.runPipeline(ctx, project, req.Preferences)
	if err != nil {
		log.Errorf("GenerateVideo: project %s failed: %v", project.ID.String(), err)
		h.markFailed(c, project.ID, err)
		var renderErr renderError
		if errors.As(err, &renderErr) {
			utils.ResponseWithError(c, http.StatusInternalServerError, renderErr.Error(), nil)
			return
		}
		utils.ResponseWithError(c, http.StatusInternalServerError, "Video generation failed", nil)
		return
	}

	if err := queries.RecordUsage(ctx, user.ID, "video_generated", gin.H{
		"projectId": project.ID.String(),
		"duration":  blueprint.TotalDuration,
		"provider":  result.Provider,
	}); err != nil {
		log.Warnf("GenerateVideo: %v", err)
	}
	if err := queries.CreateNotification(ctx, user.ID, "success", "Your video is ready",
		fmt.Sprintf("\"%s\" finished rendering.", project.Title)); err != nil {
		log.Warnf("GenerateVideo: %v", err)
	}

	utils.ResponseWithSuccess(c, http.StatusOK, "Video generated successfully", gin.H{
		"project": gin.H{
			"id":           project.ID,
			"status":       project.Status,
			"videoUrl":     result.VideoURL,
			"thumbnailUrl": result.ThumbnailURL,
			"duration":     blueprint.TotalDuration,
			"provider":     result.Provider,
		},
	})
}

func (h *Handlers) runPipeline(ctx context.Context, project *db.Project, prefs services.BlueprintPreferences) (*services.VideoResult, *services.VideoBlueprint, error) {
	extraction, err := h.loadExtraction(ctx, project)
	if err != nil {
		return nil, nil, err
	}

	var blueprint *services.VideoBlueprint
	if extraction != nil {
		if blueprint, err = h.AI.GenerateVideoBlueprint(ctx, extraction, prefs); err != nil {
			return nil, nil, err
		}
	} else {
		blueprint = services.DefaultBlueprint(project.Title, project.Description.String, prefs.Style)
	}

	if project.AIBlueprint, err = db.NewJSONB(blueprint); err != nil {
		return nil, nil, err
	}
	if project.Script, err = db.NewJSONB(blueprint.VoiceOver); err != nil {
		return nil, nil, err
	}
	project.Status = db.ProjectStatusRendering
	if err := queries.UpdateProject(ctx, project); err != nil {
		return nil, nil, err
	}

	result, err := h.AI.GenerateVideo(ctx, blueprint, project.ID.String())
	if err != nil {
		return nil, nil, renderError{err}
	}

	project.Status = db.ProjectStatusCompleted
	project.VideoURL.String, project.VideoURL.Valid = result.VideoURL, true
	project.ThumbnailURL.String, project.ThumbnailURL.Valid = result.ThumbnailURL, true
	project.Duration.Int32, project.Duration.Valid = int32(blueprint.TotalDuration), true
	project.ProcessingLogs = nil
	if err := queries.UpdateProject(ctx, project); err != nil {
		return nil, nil, err
	}
	return result, blueprint, nil
}

// loadExtraction returns the stored extraction of the project's upload, or
// extracts it now when the background job has not produced one. Projects
// without a file have no extraction.
func (h *Handlers) loadExtraction(ctx context.Context, project *db.Project) (*services.ContentExtraction, error) {
	if !project.FileName.Valid {
		return nil, nil
	}

	job, err := queries.FindLatestJob(ctx, project.ID, db.JobTypeExtractContent)
	if err != nil {
		return nil, err
	}

	input := jobs.ExtractionInput{
		FileName:  project.FileName.String,
		FileType:  project.FileType.String,
		FileSize:  project.FileSize.Int64,
		ObjectKey: storage.UploadKey(project.ID, project.FileName.String),
	}
	if job != nil {
		if job.Status == db.JobStatusCompleted && len(job.Output) > 0 {
			extraction := &services.ContentExtraction{}
			if err := job.Output.Decode(extraction); err == nil {
				return extraction, nil
			}
			log.Warnf("loadExtraction: job %s has unreadable output, extracting again", job.ID.String())
		}
		if err := job.Input.Decode(&input); err != nil {
			log.Warnf("loadExtraction: job %s has unreadable input: %v", job.ID.String(), err)
		}
	}

	log.Infof("loadExtraction: extracting %s for project %s", input.ObjectKey, project.ID.String())
	return jobs.ExtractFromStore(ctx, h.Store, h.AI, input)
}
