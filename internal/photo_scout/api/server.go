package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"photo-scout/internal/middleware/logger"
	"photo-scout/internal/photo_scout/codec"
	"photo-scout/internal/photo_scout/scheduler"
	"photo-scout/internal/photo_scout/store"
)

const (
	defaultLimit = 20
	maxLimit     = 200
)

// StatusSource 采集循环的状态快照
type StatusSource interface {
	Status() scheduler.Status
}

type Server struct {
	Log    *zap.Logger
	Store  store.DocumentStore
	Status StatusSource
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(logger.Gin(s.Log), gin.Recovery())
	r.GET("/status", s.status)
	r.GET("/collections/:collection/documents/:id", s.getDocument)
	r.GET("/collections/:collection/documents", s.queryDocuments) // ?field=value&limit=20
	return r
}

func (s *Server) status(c *gin.Context) {
	if s.Status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingestion cycle not running"})
		return
	}
	c.JSON(http.StatusOK, s.Status.Status())
}

func (s *Server) getDocument(c *gin.Context) {
	collection, id := c.Param("collection"), c.Param("id")
	doc, err := s.Store.GetDocument(c, collection, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	fields, err := codec.EncodeFields(doc.Fields)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": doc.ID, "fields": fields})
}

func (s *Server) queryDocuments(c *gin.Context) {
	collection := c.Param("collection")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}

	// 除 limit 外的查询参数都作为相等条件
	params := c.Request.URL.Query()
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "limit" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	predicates := make([]store.Predicate, 0, len(keys))
	for _, k := range keys {
		predicates = append(predicates, store.WhereText(k, store.OpEq, params.Get(k)))
	}

	data := make([]gin.H, 0, limit)
	for doc, err := range s.Store.Query(c, collection, predicates...) {
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		fields, err := codec.EncodeFields(doc.Fields)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		data = append(data, gin.H{"id": doc.ID, "fields": fields})
		if len(data) == limit {
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"collection": collection,
		"count":      len(data),
		"limit":      limit,
		"data":       data,
	})
}
