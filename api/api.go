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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/weezyhq/recon"
	"github.com/weezyhq/recon/config"
)

// Api exposes the reconciliation service over HTTP.
type Api struct {
	recon  *recon.Recon
	router *gin.Engine
}

// NewAPI builds the HTTP surface around a reconciliation service.
func NewAPI(r *recon.Recon) *Api {
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	a := &Api{recon: r, router: router}

	router.GET("/", a.Home)
	router.POST("/reconciliations", a.StartReconciliation)
	router.GET("/reconciliations/:processor/:date", a.GetReconciliationStatus)
	router.GET("/discrepancies", a.ListDiscrepancies)

	return a
}

// Router returns the configured gin engine.
func (a Api) Router() *gin.Engine {
	return a.router
}

func (a Api) Home(c *gin.Context) {
	conf, err := config.Fetch()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"server_status": "online", "project_name": conf.ProjectName})
}
