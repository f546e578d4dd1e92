// Copyright (C) 2025 Pixelated Empathy
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package biasalert

import "github.com/gin-gonic/gin"

// RegisterRoutes attaches the bias alert endpoints to the given router group.
//
// Description:
//
//	The group is expected to already carry the version prefix (for
//	example /v1). All routes are registered under /biasalert.
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	group := rg.Group("/biasalert")
	{
		group.POST("/check", h.HandleCheck)
		group.POST("/alerts/:id/acknowledge", h.HandleAcknowledge)
		group.GET("/alerts/active", h.HandleActiveAlerts)
		group.GET("/alerts/recent", h.HandleRecentAlerts)
		group.GET("/stats", h.HandleStatistics)
		group.POST("/notify", h.HandleNotify)
		group.GET("/health", h.HandleHealth)
		group.GET("/ready", h.HandleReady)
	}
}
