package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/utils"
)

// HandleValidationError maps request validation failures to a 400 naming
// the offending fields
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if fields := utils.GetValidationFields(err); fields != nil {
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if werr := utils.WriteBadRequest(w, "Validation failed", details); werr != nil {
			logger.Error("failed to write validation error response", zap.Error(werr))
		}
		return
	}

	if werr := utils.WriteBadRequest(w, err.Error(), nil); werr != nil {
		logger.Error("failed to write validation error response", zap.Error(werr))
	}
}
