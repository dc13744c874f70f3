// Copyright 2026 The PoiMatch Authors
// SPDX-License-Identifier: Apache-2.0

package dedupe

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jcodagnone/poimatch/spatial"
	"github.com/jcodagnone/poimatch/utils"
)

// Server exposes a stored, annotated dataset over HTTP, plus an ad-hoc
// pair check using the same thresholds as the matching pass.
type Server struct {
	repo    RecordRepository
	options *Options
}

// NewServer creates a server over a record repository.
func NewServer(repo RecordRepository, options *Options) *Server {
	if options == nil {
		options = DefaultOptions()
	}

	return &Server{
		repo:    repo,
		options: options,
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.GET("/api/records", s.listRecords)
	r.GET("/api/stats", s.getStats)
	r.POST("/api/check", s.checkPair)

	return r
}

// Run serves the API on addr until the listener fails.
func (s *Server) Run(addr string) error {
	return s.Router().Run(addr)
}

func (s *Server) listRecords(ctx *gin.Context) {
	limit, err := strconv.Atoi(ctx.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})

		return
	}

	offset, err := strconv.Atoi(ctx.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset parameter"})

		return
	}

	similarOnly := ctx.Query("similar") == "1"

	records, err := s.repo.ListRecords(similarOnly, limit, offset)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) getStats(ctx *gin.Context) {
	stats, err := s.repo.Stats()
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, stats)
}

type checkRecord struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

type checkRequest struct {
	A checkRecord `json:"a" binding:"required"`
	B checkRecord `json:"b" binding:"required"`
}

// checkPair evaluates an ad-hoc pair with the server's thresholds and
// reports both stage results.
func (s *Server) checkPair(ctx *gin.Context) {
	var req checkRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	a := spatial.Point{Lat: req.A.Lat, Lng: req.A.Lng}
	b := spatial.Point{Lat: req.B.Lat, Lng: req.B.Lng}

	distance := a.HaversineDistance(&b)
	if math.IsNaN(distance) || math.IsInf(distance, 0) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "non-finite coordinates"})

		return
	}

	nameA, nameB := req.A.Name, req.B.Name
	if s.options.FoldNames {
		nameA = utils.LowerASCIIFolding(nameA)
		nameB = utils.LowerASCIIFolding(nameB)
	}

	edits := EditDistance(nameA, nameB)
	match := distance <= s.options.MaxDistance && edits < s.options.MaxEdits

	ctx.JSON(http.StatusOK, gin.H{
		"distance_m":    distance,
		"edit_distance": edits,
		"match":         match,
	})
}
