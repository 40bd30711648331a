// Package server exposes the question bank and the AI features over a small
// JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/korjavin/physprepbot/ai"
	"github.com/korjavin/physprepbot/audio"
	"github.com/korjavin/physprepbot/database"
	"github.com/korjavin/physprepbot/logger"
	"github.com/korjavin/physprepbot/models"
	"github.com/samber/lo"
)

// CredentialHeader carries a caller supplied Gemini key
const CredentialHeader = "X-Goog-Api-Key"

// Generator is the part of the AI service the API serves
type Generator interface {
	GenerateExplanation(ctx context.Context, credential string, q models.Question, force bool) (string, error)
	GenerateAudioExplanation(ctx context.Context, credential string, q models.Question) (string, error)
	GetVideoRecommendations(ctx context.Context, credential string, q models.Question) []models.VideoRecommendation
	GenerateQuiz(ctx context.Context, credential string, q models.Question) ([]models.QuizQuestion, error)
}

// CredentialPicker chooses between a request key and the configured default
type CredentialPicker interface {
	Pick(override string) string
}

// StatsSource reports cache totals for /health
type StatsSource interface {
	GetStats(ctx context.Context) (database.Stats, error)
}

type Handler struct {
	bank  *models.Bank
	gen   Generator
	creds CredentialPicker
	stats StatsSource
	log   *logger.Logger
}

type ExplanationResponse struct {
	QuestionID  int    `json:"questionId"`
	Explanation string `json:"explanation"`
}

type QuizResponse struct {
	QuestionID int                   `json:"questionId"`
	Questions  []models.QuizQuestion `json:"questions"`
}

type VideoResponse struct {
	QuestionID int             `json:"questionId"`
	Videos     []videoWithLink `json:"videos"`
}

type videoWithLink struct {
	models.VideoRecommendation
	URL string `json:"url"`
}

type errorResponse struct {
	Error string  `json:"error"`
	Kind  ai.Kind `json:"kind,omitempty"`
}

// NewHandler wires the routes. stats may be nil.
func NewHandler(bank *models.Bank, gen Generator, creds CredentialPicker, stats StatsSource, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{bank: bank, gen: gen, creds: creds, stats: stats, log: log}
}

// Router returns the mux with every route registered
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(h.logRequests)
	h.RegisterRoutes(router)
	return router
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods("GET")
	router.HandleFunc("/questions", h.ListQuestions).Methods("GET")
	router.HandleFunc("/questions/{id:[0-9]+}/explanation", h.Explanation).Methods("GET")
	router.HandleFunc("/questions/{id:[0-9]+}/audio.wav", h.Audio).Methods("GET")
	router.HandleFunc("/questions/{id:[0-9]+}/quiz", h.Quiz).Methods("GET")
	router.HandleFunc("/questions/{id:[0-9]+}/videos", h.Videos).Methods("GET")
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "healthy", "questions": h.bank.Len()}
	if h.stats != nil {
		if s, err := h.stats.GetStats(r.Context()); err == nil {
			body["cachedExplanations"] = s.Explanations
			body["cachedNarrations"] = s.Narrations
		} else {
			h.log.Warn("Failed to read stats", "error", err)
		}
	}
	h.writeJSONResponse(w, http.StatusOK, body)
}

func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	questions := h.bank.All()
	if raw := r.URL.Query().Get("category"); raw != "" {
		cat, err := models.ParseCategory(raw)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		questions = lo.Filter(questions, func(q models.Question, _ int) bool { return q.Category == cat })
	}
	h.writeJSONResponse(w, http.StatusOK, questions)
}

func (h *Handler) Explanation(w http.ResponseWriter, r *http.Request) {
	q, ok := h.question(w, r)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	text, err := h.gen.GenerateExplanation(r.Context(), h.credential(r), q, force)
	if err != nil {
		h.writeAIError(w, "explanation", q.ID, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, ExplanationResponse{QuestionID: q.ID, Explanation: text})
}

func (h *Handler) Audio(w http.ResponseWriter, r *http.Request) {
	q, ok := h.question(w, r)
	if !ok {
		return
	}

	payload, err := h.gen.GenerateAudioExplanation(r.Context(), h.credential(r), q)
	if err != nil {
		h.writeAIError(w, "audio", q.ID, err)
		return
	}
	buf, err := audio.Decode(payload)
	if err != nil {
		h.writeAIError(w, "audio", q.ID, err)
		return
	}

	wav := audio.EncodeWAV(buf)
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(wav); err != nil {
		h.log.Debug("Client went away during audio download", "question_id", q.ID, "error", err)
	}
}

func (h *Handler) Quiz(w http.ResponseWriter, r *http.Request) {
	q, ok := h.question(w, r)
	if !ok {
		return
	}

	quiz, err := h.gen.GenerateQuiz(r.Context(), h.credential(r), q)
	if err != nil {
		h.writeAIError(w, "quiz", q.ID, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, QuizResponse{QuestionID: q.ID, Questions: quiz})
}

// Videos never fails: an unavailable service yields an empty list
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	q, ok := h.question(w, r)
	if !ok {
		return
	}

	recs := h.gen.GetVideoRecommendations(r.Context(), h.credential(r), q)
	videos := lo.Map(recs, func(v models.VideoRecommendation, _ int) videoWithLink {
		return videoWithLink{VideoRecommendation: v, URL: v.SearchURL()}
	})
	h.writeJSONResponse(w, http.StatusOK, VideoResponse{QuestionID: q.ID, Videos: videos})
}

func (h *Handler) question(w http.ResponseWriter, r *http.Request) (models.Question, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid question id", "")
		return models.Question{}, false
	}
	q, ok := h.bank.Get(id)
	if !ok {
		h.writeErrorResponse(w, http.StatusNotFound, "question not found", "")
		return models.Question{}, false
	}
	return q, true
}

func (h *Handler) credential(r *http.Request) string {
	return h.creds.Pick(r.Header.Get(CredentialHeader))
}

// StatusFor maps a classified AI failure to an HTTP status
func StatusFor(err error) int {
	var aiErr *ai.Error
	if !errors.As(err, &aiErr) {
		return http.StatusInternalServerError
	}
	switch aiErr.Kind {
	case ai.KindMissingCredential:
		return http.StatusUnauthorized
	case ai.KindAccessDenied:
		return http.StatusForbidden
	case ai.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) writeAIError(w http.ResponseWriter, op string, questionID int, err error) {
	status := StatusFor(err)
	kind := ai.KindOf(err)
	h.log.Warn("Request failed", "op", op, "question_id", questionID, "kind", kind, "status", status, "error", err)

	msg := ai.UserMessage(err)
	if kind == "" {
		msg = "internal error"
	}
	h.writeErrorResponse(w, status, msg, kind)
}

func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Debug("Failed to write response", "error", err)
	}
}

func (h *Handler) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, kind ai.Kind) {
	h.writeJSONResponse(w, statusCode, errorResponse{Error: message, Kind: kind})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.log.Debug("HTTP request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
