package handlers

import (
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/plant-disease-api/internal/advisory"
	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
	"github.com/Brownie44l1/plant-disease-api/internal/labels"
	"github.com/Brownie44l1/plant-disease-api/internal/metrics"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
	"github.com/Brownie44l1/plant-disease-api/internal/session"
)

const imageField = "image"

type Handler struct {
	predictor      *model.Predictor
	advisor        *advisory.Advisor
	sessions       *session.Store
	maxUploadBytes int64
}

func NewHandler(predictor *model.Predictor, advisor *advisory.Advisor, sessions *session.Store, maxUploadBytes int64) *Handler {
	return &Handler{
		predictor:      predictor,
		advisor:        advisor,
		sessions:       sessions,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"classes": h.predictor.Labels().Len(),
		"advisor": h.advisor.GeneratorName(),
	})
}

type classEntry struct {
	Index       int    `json:"index"`
	Class       string `json:"class"`
	DisplayName string `json:"display_name"`
}

// Classes lists every label the classifier can return.
func (h *Handler) Classes(c *gin.Context) {
	names := h.predictor.Labels().Labels()
	classes := make([]classEntry, len(names))
	for i, name := range names {
		classes[i] = classEntry{Index: i, Class: name, DisplayName: labels.DisplayName(name)}
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}

// Predict classifies a tensor that the client already preprocessed.
func (h *Handler) Predict(c *gin.Context) {
	var req model.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	expectedSize := h.predictor.InputSize()
	if len(req.Image) != expectedSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Expected %d values, got %d", expectedSize, len(req.Image))})
		return
	}

	start := time.Now()
	result, err := h.predictor.PredictTensor(model.Tensor{Shape: h.predictor.InputShape(), Data: req.Image})
	metrics.ObservePrediction(err == nil, time.Since(start))
	if err != nil {
		writePredictionError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) PredictFromImage(c *gin.Context) {
	img, ok := h.readImage(c)
	if !ok {
		return
	}

	result, err := h.predictImage(img)
	if err != nil {
		writePredictionError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type adviceRequest struct {
	Label    string `json:"label" binding:"required"`
	Question string `json:"question"`
}

// Advice is the stateless form of the advisory calls: disease information
// when no question is given, an answer otherwise.
func (h *Handler) Advice(c *gin.Context) {
	var req adviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "label is required"})
		return
	}

	var text string
	var result advisory.Result
	if req.Question == "" {
		result = h.advisor.DiseaseInfo(c.Request.Context(), req.Label)
		text = result.Render(advisory.InfoErrorPrefix)
	} else {
		result = h.advisor.Answer(c.Request.Context(), req.Label, req.Question)
		text = result.Render(advisory.AnswerErrorPrefix)
	}

	c.JSON(http.StatusOK, gin.H{
		"label": req.Label,
		"text":  text,
		"ok":    result.OK(),
	})
}

// readImage pulls the multipart image field off the request and decodes it.
// It writes the error response itself and reports false on failure.
func (h *Handler) readImage(c *gin.Context) (image.Image, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	fileHeader, err := c.FormFile(imageField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("Image too large (max %d bytes)", h.maxUploadBytes)})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image file provided. Use 'image' as the form field name"})
		return nil, false
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to open uploaded file"})
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return nil, false
	}
	log.Debug().Str("filename", fileHeader.Filename).Int64("size", fileHeader.Size).Msg("received image")

	img, format, err := model.DecodeImage(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image format. Supported: JPEG, PNG, GIF, BMP, WebP"})
		return nil, false
	}
	log.Debug().Str("format", format).Int("width", img.Bounds().Dx()).Int("height", img.Bounds().Dy()).Msg("decoded image")
	return img, true
}

func (h *Handler) predictImage(img image.Image) (*model.PredictionResult, error) {
	start := time.Now()
	result, err := h.predictor.PredictImage(img)
	metrics.ObservePrediction(err == nil, time.Since(start))
	if err == nil {
		log.Info().Str("class", result.Class).Float32("confidence", result.Confidence).Msg("image classified")
	}
	return result, err
}

func writePredictionError(c *gin.Context, err error) {
	log.Error().Err(err).Msg("prediction failed")

	var keyErr *apperrors.KeyNotFoundError
	var inferenceErr *apperrors.InferenceError
	switch {
	case errors.As(err, &keyErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Prediction failed: model and label table disagree", "index": keyErr.Index})
	case errors.As(err, &inferenceErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Prediction failed: " + inferenceErr.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Prediction failed"})
	}
}
