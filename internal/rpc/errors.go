package rpc

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"deftheim/internal/domain"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindDependency, domain.KindCyclicDependency, domain.KindVersionConflict:
		return http.StatusUnprocessableEntity
	case domain.KindNetwork:
		return http.StatusBadGateway
	case domain.KindInvalid:
		return http.StatusBadRequest
	case domain.KindAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// respondError writes the error body for err and aborts the request.
func respondError(c *gin.Context, err error) {
	kind := domain.Kind(err)
	resp := errorResponse{
		Code:      string(kind),
		Message:   err.Error(),
		Details:   errorDetails(err),
		RequestID: c.GetString(RequestIDKey),
	}
	c.AbortWithStatusJSON(StatusFor(kind), resp)
}

// errorDetails exposes the structured fields of typed errors.
func errorDetails(err error) any {
	var (
		switchErr  *domain.ProfileSwitchError
		batchErr   *domain.BatchUpdateError
		restoreErr *domain.RestoreError
		cycleErr   *domain.CyclicDependencyError
		depErr     *domain.DependencyError
		verErr     *domain.VersionConflictError
		netErr     *domain.NetworkError
	)

	switch {
	case errors.As(err, &switchErr):
		return gin.H{
			"profileId":      switchErr.ProfileID,
			"step":           switchErr.Step,
			"modId":          switchErr.ModID,
			"rolledBack":     switchErr.RolledBack,
			"restoredBackup": switchErr.RestoredBackup,
		}
	case errors.As(err, &batchErr):
		return gin.H{"results": batchErr.Results}
	case errors.As(err, &restoreErr):
		return gin.H{"backupId": restoreErr.BackupID, "inconsistent": restoreErr.Inconsistent}
	case errors.As(err, &cycleErr):
		return gin.H{"cycle": cycleErr.Cycle}
	case errors.As(err, &depErr):
		return gin.H{"modId": depErr.ModID, "unmet": depErr.Unmet, "dependents": depErr.Dependents}
	case errors.As(err, &verErr):
		return gin.H{"modId": verErr.ModID, "version": verErr.Version, "unmet": verErr.Unmet}
	case errors.As(err, &netErr):
		return gin.H{"source": netErr.Source}
	}
	return nil
}
