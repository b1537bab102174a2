package server

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/dedupe"
	"github.com/lorekeep/lorekeep/internal/engine"
	"github.com/lorekeep/lorekeep/internal/integrity"
	"github.com/lorekeep/lorekeep/internal/logger"
	"github.com/lorekeep/lorekeep/internal/model"
	"github.com/lorekeep/lorekeep/internal/store/canonical"
	"github.com/lorekeep/lorekeep/internal/store/graph"
	"github.com/lorekeep/lorekeep/internal/store/vector"
	"github.com/lorekeep/lorekeep/internal/validate"
)

type Server struct {
	Canonical *canonical.Adapter
	Engine    *engine.Engine
	Dedupe    *dedupe.Engine
	Validator *integrity.Validator
	log       *logger.Logger
}

func NewServer(log *logger.Logger, cfg *config.Config) (*Server, error) {
	dsn := cfg.Postgres.DSN
	if env := os.Getenv("POSTGRES_DSN"); env != "" {
		dsn = env
	}
	adapter, err := canonical.NewAdapter(log, dsn)
	if err != nil {
		return nil, err
	}

	uri := cfg.Neo4j.URI
	if env := os.Getenv("NEO4J_URI"); env != "" {
		uri = env
	}
	driver, err := graph.NewNeo4jDriver(log, uri, cfg.Neo4j.User, cfg.Neo4j.Password)
	if err != nil {
		return nil, err
	}
	if err := driver.BuildIndices(context.Background()); err != nil {
		log.Warn("graph index bootstrap failed", "error", err)
	}
	projector := graph.NewProjector(log, driver)

	vectorClient, err := vector.NewClient(log, vector.Config{
		URL:        cfg.Qdrant.URL,
		Collection: cfg.Qdrant.Collection,
		VectorDim:  cfg.Qdrant.VectorDim,
	})
	if err != nil {
		return nil, err
	}
	// Best-effort like the rest of the vector path: a down vector store must
	// not keep the engine from starting.
	if err := vectorClient.EnsureCollection(context.Background()); err != nil {
		log.Warn("vector collection bootstrap failed", "error", err)
	}
	embedder := vector.NewOpenAIEmbedder(cfg.Embeddings.APIKey, cfg.Embeddings.BaseURL, cfg.Embeddings.Model)
	indexer := vector.NewIndexer(log, vectorClient, embedder)

	eng := engine.New(log, adapter, projector, indexer,
		cfg.Concurrency.BatchWorkers,
		engine.Timeouts{
			Canonical: cfg.Timeouts.Canonical(),
			Graph:     cfg.Timeouts.Graph(),
			Vector:    cfg.Timeouts.Vector(),
		})

	return &Server{
		Canonical: adapter,
		Engine:    eng,
		Dedupe:    dedupe.NewEngine(log, adapter, projector, indexer, cfg.Dedupe.Threshold()),
		Validator: integrity.NewValidator(log, adapter, projector, indexer, cfg.Integrity.LatencyThreshold()),
		log:       log.With("component", "server"),
	}, nil
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/entities", s.IngestEntities)
	r.GET("/entities/:kind/:key", s.GetEntity)
	r.DELETE("/entities/:kind/:key", s.DeleteEntity)
	r.DELETE("/entities", s.DeleteBySourceTag)
	r.POST("/project/retry", s.RetryPending)
	r.POST("/project/rebuild/:kind", s.Reproject)
	r.GET("/audit/:kind", s.Audit)
	r.GET("/duplicates/:kind", s.FindDuplicates)
	r.POST("/duplicates/:kind/merge", s.MergeDuplicates)

	return r
}

type IngestRequest struct {
	Entities []validate.Payload `json:"entities"`
}

func (s *Server) IngestEntities(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Entities) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no entities in batch"})
		return
	}

	result := s.Engine.SyncBatch(c.Request.Context(), req.Entities)
	c.JSON(http.StatusOK, result)
}

func (s *Server) GetEntity(c *gin.Context) {
	kind := model.Kind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown kind"})
		return
	}

	entity, err := s.Canonical.Get(c.Request.Context(), kind, c.Param("key"))
	if errors.Is(err, model.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if err != nil {
		s.log.Error("get failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "canonical store unavailable"})
		return
	}
	c.JSON(http.StatusOK, entity)
}

func (s *Server) DeleteEntity(c *gin.Context) {
	kind := model.Kind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown kind"})
		return
	}

	err := s.Engine.DeleteEntity(c.Request.Context(), kind, c.Param("key"))
	if errors.Is(err, model.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if err != nil {
		s.log.Error("delete failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "canonical store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) DeleteBySourceTag(c *gin.Context) {
	tag := c.Query("source_tag")
	if tag == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_tag query parameter required"})
		return
	}

	n, err := s.Engine.DeleteBySourceTag(c.Request.Context(), tag)
	if err != nil {
		s.log.Error("bulk delete failed", "source_tag", tag, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "canonical store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (s *Server) RetryPending(c *gin.Context) {
	resolved, remaining := s.Engine.RetryPending(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"resolved": resolved, "remaining": remaining})
}

func (s *Server) Reproject(c *gin.Context) {
	kind := model.Kind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown kind"})
		return
	}

	projected, failed, err := s.Engine.Reproject(c.Request.Context(), kind)
	if err != nil {
		s.log.Error("reprojection failed", "kind", kind, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reprojection failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reprojected": projected, "failed": failed})
}

func (s *Server) Audit(c *gin.Context) {
	kind := model.Kind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown kind"})
		return
	}

	record, err := s.Validator.Audit(c.Request.Context(), kind)
	if err != nil {
		s.log.Error("audit failed", "kind", kind, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit failed"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) FindDuplicates(c *gin.Context) {
	kind := model.Kind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown kind"})
		return
	}

	groups, err := s.Dedupe.FindDuplicates(c.Request.Context(), kind)
	if err != nil {
		s.log.Error("duplicate scan failed", "kind", kind, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "duplicate scan failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

type MergeRequest struct {
	Keys     []string `json:"keys"`
	Survivor string   `json:"survivor,omitempty"`
}

// MergeDuplicates is the only destructive endpoint. It is never invoked
// implicitly during sync, and its response carries the backup manifest.
func (s *Server) MergeDuplicates(c *gin.Context) {
	kind := model.Kind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown kind"})
		return
	}

	var req MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Keys) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least two keys required"})
		return
	}

	manifest, err := s.Dedupe.Merge(c.Request.Context(), model.DuplicateGroup{
		Kind:     kind,
		Keys:     req.Keys,
		Survivor: req.Survivor,
	})
	if err != nil {
		s.log.Error("merge failed", "kind", kind, "error", err)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": manifest})
}
