package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type productResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Price string `json:"price"`
	Stock int    `json:"stock"`
	Image string `json:"image,omitempty"`
}

// ListProducts handles GET /api/products.
func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.products.List(c.Request.Context(), h.cfg.ProductPageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]productResponse, len(products))
	for i, p := range products {
		out[i] = productResponse{
			ID:    p.ID,
			Title: p.Title,
			Price: p.Price.StringFixed(2),
			Stock: p.StockCount(),
			Image: p.Image,
		}
	}
	c.JSON(http.StatusOK, out)
}
