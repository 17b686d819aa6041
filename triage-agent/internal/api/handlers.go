package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/graph"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/imagestore"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/knowledge"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/vision"
)

// genericFailure is the only text a user sees when the pipeline fails.
const genericFailure = "I'm sorry, I couldn't process your request right now. Please try again in a moment, " +
	"and if you have severe or worsening symptoms contact a medical professional or emergency services."

const maxSearchK = 50

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message string                 `json:"message"`
	History []graph.HistoryMessage `json:"history"`
	Image   string                 `json:"image,omitempty"`
}

// ChatResponse carries the reply and a summary of how it was produced.
type ChatResponse struct {
	Response        string   `json:"response"`
	Stage           string   `json:"stage,omitempty"`
	RiskScore       *int     `json:"risk_score,omitempty"`
	RiskBand        string   `json:"risk_band,omitempty"`
	Degraded        bool     `json:"degraded,omitempty"`
	DegradedReasons []string `json:"degraded_reasons,omitempty"`
}

// IngestRequest is the body of POST /ingest.
type IngestRequest struct {
	Text      string `json:"text,omitempty"`
	Image     string `json:"image,omitempty"`
	Source    string `json:"source,omitempty"`
	SaveImage *bool  `json:"save_image,omitempty"`
}

type IngestResponse struct {
	Success       bool   `json:"success"`
	TextChunks    int    `json:"text_chunks"`
	ImageID       string `json:"image_id,omitempty"`
	ImageAnalysis string `json:"image_analysis,omitempty"`
	Message       string `json:"message"`
}

type HealthResponse struct {
	Status       string `json:"status"`
	RAGService   string `json:"rag_service"`
	AgentService string `json:"agent_service"`
	Cache        string `json:"cache"`
}

type vectorResult struct {
	Content  string         `json:"content"`
	Metadata vectorMetadata `json:"metadata"`
	Score    float64        `json:"score"`
}

type vectorMetadata struct {
	Source  string `json:"source"`
	ChunkID int    `json:"chunk_id"`
	ImageID string `json:"image_id,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	stages := make([]string, 0, len(graph.AllStages))
	for _, st := range graph.AllStages {
		stages = append(stages, string(st))
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": serviceName,
		"version": serviceVersion,
		"stages":  stages,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", RAGService: "ok", AgentService: "ok", Cache: "disabled"}
	if s.knowledge == nil {
		resp.RAGService = "disabled"
	} else if err := s.knowledge.Ping(r.Context()); err != nil {
		resp.RAGService = "error: " + err.Error()
	}
	if s.pipeline == nil {
		resp.AgentService = "disabled"
	}
	if s.cache != nil {
		resp.Cache = "ok"
		if err := s.cache.Ping(r.Context()); err != nil {
			resp.Cache = "error: " + err.Error()
		}
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	history, err := graph.NewConversation(req.History, s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in := graph.Input{Query: req.Message, History: history}
	if strings.TrimSpace(req.Image) != "" {
		in.Image, err = vision.DecodeDataURL(req.Image)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	log := s.log.With().Str("request_id", graph.RequestID(r.Context())).Logger()
	res, err := s.pipeline.Run(r.Context(), in)
	switch {
	case errors.Is(err, graph.ErrInputInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		log.Error().Err(err).Msg("chat failed")
		writeJSONResponse(w, http.StatusInternalServerError, ChatResponse{Response: genericFailure})
		return
	}

	writeJSONResponse(w, http.StatusOK, ChatResponse{
		Response:        res.Response,
		Stage:           string(res.Terminal),
		RiskScore:       res.Risk,
		RiskBand:        string(res.Band),
		Degraded:        res.Degraded,
		DegradedReasons: res.DegradedReasons,
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := s.decode(w, r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, IngestResponse{Message: err.Error()})
		return
	}

	in := knowledge.IngestRequest{Text: req.Text, Source: req.Source, SaveImage: true}
	if req.SaveImage != nil {
		in.SaveImage = *req.SaveImage
	}
	if strings.TrimSpace(req.Image) != "" {
		data, err := vision.DecodeDataURL(req.Image)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, IngestResponse{Message: err.Error()})
			return
		}
		in.Image = data
	}

	res, err := s.knowledge.Ingest(r.Context(), in)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "Ingestion failed"
		switch {
		case errors.Is(err, knowledge.ErrInputInvalid):
			status, msg = http.StatusBadRequest, "Either text or image must be provided"
		case errors.Is(err, imagestore.ErrUnsupported):
			status, msg = http.StatusBadRequest, "Unsupported image type"
		case errors.Is(err, vision.ErrVisionUnavailable):
			status, msg = http.StatusBadGateway, "Image analysis failed"
		case errors.Is(err, knowledge.ErrKnowledgeUnavailable):
			status, msg = http.StatusServiceUnavailable, "Knowledge store unavailable"
		}
		s.log.Warn().Err(err).Str("request_id", graph.RequestID(r.Context())).Msg("ingest failed")
		writeJSONResponse(w, status, IngestResponse{Message: msg})
		return
	}

	writeJSONResponse(w, http.StatusOK, IngestResponse{
		Success:       true,
		TextChunks:    res.Chunks,
		ImageID:       res.ImageID,
		ImageAnalysis: res.Analysis,
		Message:       fmt.Sprintf("Successfully ingested content with %d chunks", res.Chunks),
	})
}

func (s *Server) handleGraphQuery(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	relations, err := s.knowledge.GraphQuery(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error querying knowledge graph")
		return
	}
	if relations == nil {
		relations = []knowledge.Relation{}
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"query":     query,
		"relations": relations,
		"result":    knowledge.FormatRelations(relations),
	})
}

func (s *Server) handleHybridSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	k := s.defaultK
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSearchK {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("k must be between 1 and %d", maxSearchK))
			return
		}
		k = n
	}

	res, err := s.knowledge.HybridSearch(r.Context(), query, k)
	if err != nil {
		s.log.Warn().Err(err).Msg("hybrid search failed")
		writeError(w, http.StatusServiceUnavailable, "Error performing hybrid search")
		return
	}
	vector := make([]vectorResult, 0, len(res.Vector))
	for _, sn := range res.Vector {
		vector = append(vector, vectorResult{
			Content:  sn.Text,
			Metadata: vectorMetadata{Source: sn.Source, ChunkID: sn.ChunkIndex, ImageID: sn.ImageID},
			Score:    sn.Score,
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"query": query,
		"results": map[string]interface{}{
			"vector_results": vector,
			"graph_results":  knowledge.FormatRelations(res.Relations),
		},
	})
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		writeError(w, http.StatusNotFound, "image storage is disabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	images, err := s.images.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list images")
		return
	}
	if images == nil {
		images = []imagestore.Metadata{}
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{"images": images, "count": len(images)})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		writeError(w, http.StatusNotFound, "image storage is disabled")
		return
	}
	meta, err := s.images.Get(mux.Vars(r)["id"])
	if err != nil {
		writeImageError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, meta)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		writeError(w, http.StatusNotFound, "image storage is disabled")
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.images.Delete(id); err != nil {
		writeImageError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"deleted": id})
}

func writeImageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, imagestore.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "invalid image id")
	case errors.Is(err, imagestore.ErrNotFound):
		writeError(w, http.StatusNotFound, "image not found")
	default:
		writeError(w, http.StatusInternalServerError, "image storage error")
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.bodyLimit())
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return errors.New("invalid request body")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONResponse(w, status, map[string]string{"error": msg})
}

func writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
