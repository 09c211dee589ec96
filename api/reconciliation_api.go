/*
Copyright 2024 Weezy Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	apimodel "github.com/weezyhq/recon/api/model"
	"github.com/weezyhq/recon/database"
	"github.com/weezyhq/recon/model"
)

// StartReconciliation accepts a run request and executes it asynchronously.
// The caller polls the status endpoint with the run key; a run can take
// minutes against slow processor report APIs.
func (a Api) StartReconciliation(c *gin.Context) {
	var req apimodel.CreateReconciliation
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := req.ParseDate()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be in YYYY-MM-DD format"})
		return
	}

	go func() {
		ctx := context.Background()
		if req.All {
			if _, err := a.recon.ReconcileAll(ctx, date); err != nil {
				logrus.Errorf("reconciliation sweep for %s failed: %v", req.Date, err)
			}
			return
		}
		if _, err := a.recon.ReconcileProcessor(ctx, req.Processor, date); err != nil {
			logrus.Errorf("reconciliation for %s on %s failed: %v", req.Processor, req.Date, err)
		}
	}()

	response := gin.H{"status": "accepted", "date": req.Date}
	if !req.All {
		// Runs are stored under the upper-case processor name; the key we
		// hand back must match what the status endpoint will find.
		processor := strings.ToUpper(strings.TrimSpace(req.Processor))
		response["run_key"] = model.RunKey{Processor: processor, Date: date}.String()
	}
	c.JSON(http.StatusAccepted, response)
}

// GetReconciliationStatus returns the persisted run for a processor and date.
func (a Api) GetReconciliationStatus(c *gin.Context) {
	processor := c.Param("processor")
	date, err := time.Parse("2006-01-02", c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be in YYYY-MM-DD format"})
		return
	}

	run, err := a.recon.GetRunStatus(c.Request.Context(), processor, date)
	if err != nil {
		if err == database.ErrRunNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "no reconciliation run for this processor and date"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListDiscrepancies returns the unresolved items, filtered by the optional
// processor and max_age_days query parameters.
func (a Api) ListDiscrepancies(c *gin.Context) {
	maxAgeDays := 0
	if raw := c.Query("max_age_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_age_days must be a non-negative integer"})
			return
		}
		maxAgeDays = parsed
	}

	items, err := a.recon.ListUnresolved(c.Request.Context(), c.Query("processor"), maxAgeDays)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if items == nil {
		items = []*model.DiscrepancyItem{}
	}
	c.JSON(http.StatusOK, gin.H{"discrepancies": items, "count": len(items)})
}
