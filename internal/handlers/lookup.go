package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tunelink/internal/models"
)

// TextLookup resolves free-form text containing provider links.
type TextLookup interface {
	LookupByText(ctx context.Context, content string) <-chan *models.UnifiedResult
}

// IdentifierLookup resolves entities by industry identifier or search terms.
type IdentifierLookup interface {
	LookupByISRC(ctx context.Context, isrc string) (*models.UnifiedResult, error)
	LookupByUPC(ctx context.Context, upc string) (*models.UnifiedResult, error)
	LookupByTitleArtist(ctx context.Context, title, artist string) (*models.UnifiedResult, error)
}

// LookupHandler serves the lookup API.
type LookupHandler struct {
	text  TextLookup
	ident IdentifierLookup
}

// NewLookupHandler creates a lookup handler.
func NewLookupHandler(text TextLookup, ident IdentifierLookup) *LookupHandler {
	return &LookupHandler{text: text, ident: ident}
}

// LookupResponse is the API rendering of resolved entities.
type LookupResponse struct {
	Results []ResultPayload `json:"results"`
}

// ResultPayload is one resolved entity with its per-provider entries in
// presentation order.
type ResultPayload struct {
	Entries    []*models.ProviderResult `json:"entries"`
	Links      []string                 `json:"links,omitempty"`
	LookedUpAt time.Time                `json:"lookedUpAt"`
}

func toPayload(result *models.UnifiedResult) ResultPayload {
	return ResultPayload{
		Entries:    result.Ordered(),
		Links:      result.Links,
		LookedUpAt: result.LookedUpAt,
	}
}

// LookupText handles GET /api/v1/lookup?text=...
func (h *LookupHandler) LookupText(c *gin.Context) {
	text := strings.TrimSpace(c.Query("text"))
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text query parameter is required"})
		return
	}

	response := LookupResponse{Results: []ResultPayload{}}
	for result := range h.text.LookupByText(c.Request.Context(), text) {
		response.Results = append(response.Results, toPayload(result))
	}
	c.JSON(http.StatusOK, response)
}

// LookupISRC handles GET /api/v1/lookup/isrc/:isrc
func (h *LookupHandler) LookupISRC(c *gin.Context) {
	isrc := strings.TrimSpace(c.Param("isrc"))
	if isrc == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "isrc is required"})
		return
	}

	result, err := h.ident.LookupByISRC(c.Request.Context(), isrc)
	h.renderOne(c, result, err)
}

// LookupUPC handles GET /api/v1/lookup/upc/:upc
func (h *LookupHandler) LookupUPC(c *gin.Context) {
	upc := strings.TrimSpace(c.Param("upc"))
	if upc == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "upc is required"})
		return
	}

	result, err := h.ident.LookupByUPC(c.Request.Context(), upc)
	h.renderOne(c, result, err)
}

// LookupSearch handles GET /api/v1/lookup/search?title=...&artist=...
func (h *LookupHandler) LookupSearch(c *gin.Context) {
	title := strings.TrimSpace(c.Query("title"))
	artist := strings.TrimSpace(c.Query("artist"))
	if title == "" || artist == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title and artist query parameters are required"})
		return
	}

	result, err := h.ident.LookupByTitleArtist(c.Request.Context(), title, artist)
	h.renderOne(c, result, err)
}

func (h *LookupHandler) renderOne(c *gin.Context, result *models.UnifiedResult, err error) {
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if result == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, toPayload(result))
}

// RegisterRoutes wires the lookup API onto a gin engine.
func (h *LookupHandler) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	{
		v1.GET("/lookup", h.LookupText)
		v1.GET("/lookup/isrc/:isrc", h.LookupISRC)
		v1.GET("/lookup/upc/:upc", h.LookupUPC)
		v1.GET("/lookup/search", h.LookupSearch)
	}
}
