package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/plant-disease-api/internal/advisory"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
	"github.com/Brownie44l1/plant-disease-api/internal/session"
)

type identifyResponse struct {
	Session     session.State           `json:"session"`
	Prediction  *model.PredictionResult `json:"prediction"`
	DiseaseInfo string                  `json:"disease_info"`
	OK          bool                    `json:"ok"`
}

type questionRequest struct {
	Question string `json:"question" binding:"required"`
}

type answerResponse struct {
	Session session.State `json:"session"`
	Answer  string        `json:"answer"`
	OK      bool          `json:"ok"`
}

func (h *Handler) CreateSession(c *gin.Context) {
	state, err := h.sessions.Create()
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (h *Handler) GetSession(c *gin.Context) {
	state, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// DeleteSession drops the session entirely; the id is no longer valid.
func (h *Handler) DeleteSession(c *gin.Context) {
	if !h.sessions.Delete(c.Param("id")) {
		writeSessionError(c, session.ErrSessionNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ClearSession(c *gin.Context) {
	state, err := h.sessions.Clear(c.Param("id"))
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Identify classifies the uploaded leaf, records the detection and fetches
// the disease description. A failed description still answers 200 with ok=false.
func (h *Handler) Identify(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.sessions.Get(id); err != nil {
		writeSessionError(c, err)
		return
	}

	img, ok := h.readImage(c)
	if !ok {
		return
	}

	result, err := h.predictImage(img)
	if err != nil {
		writePredictionError(c, err)
		return
	}

	detected, err := h.sessions.SetDetection(id, result.Class, result.Confidence)
	if err != nil {
		writeSessionError(c, err)
		return
	}

	info := h.advisor.DiseaseInfo(c.Request.Context(), result.Class)
	rendered := info.Render(advisory.InfoErrorPrefix)

	state, err := h.sessions.SetDiseaseInfo(id, detected.Detection, rendered)
	if err != nil {
		writeSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, identifyResponse{
		Session:     state,
		Prediction:  result,
		DiseaseInfo: rendered,
		OK:          info.OK(),
	})
}

func (h *Handler) AskQuestion(c *gin.Context) {
	id := c.Param("id")

	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}

	state, err := h.sessions.Get(id)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	if !state.HasDetection() {
		c.JSON(http.StatusConflict, gin.H{"error": "Identify a disease before asking questions"})
		return
	}

	answer := h.advisor.Answer(c.Request.Context(), state.DetectedDisease, req.Question)
	rendered := answer.Render(advisory.AnswerErrorPrefix)

	state, err = h.sessions.SetLatestAnswer(id, state.Detection, rendered)
	if err != nil {
		writeSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, answerResponse{Session: state, Answer: rendered, OK: answer.OK()})
}

func writeSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	case errors.Is(err, session.ErrStaleDetection):
		c.JSON(http.StatusConflict, gin.H{"error": "Session changed by another request; result discarded"})
		return
	}
	log.Error().Err(err).Msg("session store failure")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Session store failure"})
}
