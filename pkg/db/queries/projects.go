package queries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const projectColumns = `id, user_id, title, description, status, settings, file_url, file_name, file_type, file_size,
	ai_blueprint, script, video_url, thumbnail_url, duration, processing_logs, created_at, updated_at`

// CreateProject inserts a new project. An empty status defaults to draft.
func CreateProject(ctx context.Context, project *db.Project) (*db.Project, error) {
	if project.Status == "" {
		project.Status = db.ProjectStatusDraft
	}
	if len(project.Settings) == 0 {
		project.Settings = db.JSONB(`{}`)
	}

	query := `
		INSERT INTO projects (user_id, title, description, status, settings)
		VALUES (:user_id, :title, :description, :status, :settings)
		RETURNING id, created_at, updated_at`

	rows, err := db.DB.NamedQueryContext(ctx, query, project)
	if err != nil {
		log.Errorf("Error creating project: %v", err)
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		log.Error("No rows returned after project creation.")
		return nil, errors.New("no rows returned after project creation")
	}
	if err := rows.StructScan(project); err != nil {
		log.Errorf("Error scanning project data after creation: %v", err)
		return nil, fmt.Errorf("error scanning project after creation: %w", err)
	}

	log.Infof("Project '%s' created for user ID: %s (ID: %s)", project.Title, project.UserID.String(), project.ID.String())
	return project, nil
}

// FindProjectByIDAndUser returns nil, nil when the project does not exist or
// belongs to someone else.
func FindProjectByIDAndUser(ctx context.Context, projectID, userID uuid.UUID) (*db.Project, error) {
	project := &db.Project{}
	err := db.DB.GetContext(ctx, project, `SELECT `+projectColumns+` FROM projects WHERE id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Debugf("Project '%s' not found for user '%s'.", projectID.String(), userID.String())
			return nil, nil
		}
		log.Errorf("Error finding project '%s' for user '%s': %v", projectID.String(), userID.String(), err)
		return nil, fmt.Errorf("error finding project: %w", err)
	}
	return project, nil
}

// FindProjectsByUserID lists a user's projects, newest first.
func FindProjectsByUserID(ctx context.Context, userID uuid.UUID) ([]db.Project, error) {
	projects := []db.Project{}
	query := `SELECT ` + projectColumns + ` FROM projects WHERE user_id = $1 ORDER BY created_at DESC`
	if err := db.DB.SelectContext(ctx, &projects, query, userID); err != nil {
		log.Errorf("Error finding projects for user ID '%s': %v", userID.String(), err)
		return nil, fmt.Errorf("error finding projects by user ID: %w", err)
	}
	return projects, nil
}

// UpdateProject saves every mutable column of the project.
func UpdateProject(ctx context.Context, project *db.Project) error {
	project.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE projects
		SET title = :title, description = :description, status = :status, settings = :settings,
		    file_url = :file_url, file_name = :file_name, file_type = :file_type, file_size = :file_size,
		    ai_blueprint = :ai_blueprint, script = :script, video_url = :video_url, thumbnail_url = :thumbnail_url,
		    duration = :duration, processing_logs = :processing_logs, updated_at = :updated_at
		WHERE id = :id AND user_id = :user_id`

	result, err := db.DB.NamedExecContext(ctx, query, project)
	if err != nil {
		log.Errorf("Error updating project with ID '%s': %v", project.ID.String(), err)
		return fmt.Errorf("failed to update project: %w", err)
	}
	if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
		log.Warnf("No project found with ID '%s' for user ID '%s' for update.", project.ID.String(), project.UserID.String())
		return sql.ErrNoRows
	}

	log.Debugf("Project with ID '%s' updated (status=%s).", project.ID.String(), project.Status)
	return nil
}

// SetProjectStatus updates only the status and, when logs is non-empty,
// the processing logs.
func SetProjectStatus(ctx context.Context, projectID uuid.UUID, status string, logs db.JSONB) error {
	var err error
	if len(logs) == 0 {
		_, err = db.DB.ExecContext(ctx, `UPDATE projects SET status = $2, updated_at = NOW() WHERE id = $1`, projectID, status)
	} else {
		_, err = db.DB.ExecContext(ctx, `UPDATE projects SET status = $2, processing_logs = $3, updated_at = NOW() WHERE id = $1`, projectID, status, logs)
	}
	if err != nil {
		log.Errorf("Error setting status of project '%s' to %s: %v", projectID.String(), status, err)
		return fmt.Errorf("failed to set project status: %w", err)
	}
	return nil
}

// ClaimProjectForProcessing moves a project owned by userID to processing
// unless it is already processing or rendering. It reports whether this
// caller won the claim.
func ClaimProjectForProcessing(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	result, err := db.DB.ExecContext(ctx, `
		UPDATE projects SET status = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status NOT IN ($4, $5)`,
		projectID, userID, db.ProjectStatusProcessing, db.ProjectStatusProcessing, db.ProjectStatusRendering)
	if err != nil {
		log.Errorf("Error claiming project '%s' for processing: %v", projectID.String(), err)
		return false, fmt.Errorf("failed to claim project: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim project: %w", err)
	}
	return rowsAffected == 1, nil
}

// DeleteProject removes a project owned by userID and returns the name of its
// uploaded file, if any.
func DeleteProject(ctx context.Context, projectID, userID uuid.UUID) (sql.NullString, error) {
	var fileName sql.NullString
	err := db.DB.GetContext(ctx, &fileName, `DELETE FROM projects WHERE id = $1 AND user_id = $2 RETURNING file_name`, projectID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Warnf("No project found with ID '%s' for user ID '%s' for deletion.", projectID.String(), userID.String())
			return fileName, sql.ErrNoRows
		}
		log.Errorf("Error deleting project with ID '%s' for user ID '%s': %v", projectID.String(), userID.String(), err)
		return fileName, err
	}

	log.Infof("Project with ID '%s' deleted.", projectID.String())
	return fileName, nil
}

func CountProjects(ctx context.Context) (int, error) {
	var count int
	if err := db.DB.GetContext(ctx, &count, `SELECT COUNT(*) FROM projects`); err != nil {
		return 0, fmt.Errorf("failed to count projects: %w", err)
	}
	return count, nil
}
