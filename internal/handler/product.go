package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bundle-store/internal/model"
	"github.com/iliyamo/bundle-store/internal/service"
)

// Product describes the bundle on sale.
type Product struct {
	Name     string                    `json:"name"`
	Price    int64                     `json:"price"`
	Currency string                    `json:"currency"`
	Methods  []model.PaymentMethod     `json:"payment_methods"`
	Bank     *service.BankInstructions `json:"bank,omitempty"`
}

// ProductHandler serves the static product description.
type ProductHandler struct {
	Product Product
}

func NewProductHandler(p Product) *ProductHandler { return &ProductHandler{Product: p} }

// Get handles GET /product.
func (h *ProductHandler) Get(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Product)
}
