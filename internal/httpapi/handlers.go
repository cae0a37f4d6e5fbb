package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stockpos/internal/domain"
	"stockpos/internal/imagestore"
	"stockpos/internal/invoice"
	"stockpos/internal/service"
	"stockpos/internal/store"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := a.service.Dashboard(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.GetProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var (
		req   domain.ProductCreateRequest
		image *service.ImageUpload
	)
	if isMultipart(r) {
		form, upload, err := a.readProductForm(w, r)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		defer r.MultipartForm.RemoveAll()
		update, err := form.updateRequest()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		req = createFromUpdate(update)
		image = upload
	} else if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.CreateProduct(r.Context(), req, image)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var (
		req   domain.ProductUpdateRequest
		image *service.ImageUpload
	)
	if isMultipart(r) {
		form, upload, err := a.readProductForm(w, r)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		defer r.MultipartForm.RemoveAll()
		req, err = form.updateRequest()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		image = upload
	} else if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.UpdateProduct(r.Context(), id, req, image)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	removal, err := a.service.DeleteProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":  true,
		"archived": removal.Archived,
		"product":  removal.Product,
	})
}

func (a *API) handleProductSummaries(w http.ResponseWriter, r *http.Request) {
	summaries, err := a.service.ProductSummaries(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	summaries, err := a.service.LowStock(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)
	sales, err := a.service.ListSales(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sale, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.GetSale(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.GetSale(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := invoice.Render(&buf, invoice.NewView(sale, a.location)); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("render invoice %d: %w", id, err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.DeleteSale(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	path, err := a.images.Path(r.PathValue("name"))
	if err != nil {
		if errors.Is(err, imagestore.ErrInvalidRef) {
			http.NotFound(w, r)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, path)
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// productForm holds the text fields of a multipart product request.
type productForm map[string][]string

func (a *API) readProductForm(w http.ResponseWriter, r *http.Request) (productForm, *service.ImageUpload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, &store.FieldError{Field: "image", Message: imagestore.ErrTooLarge.Error()}
		}
		return nil, nil, &store.FieldError{Field: "form", Message: "malformed multipart body"}
	}

	file, header, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return productForm(r.MultipartForm.Value), nil, nil
	case err != nil:
		return nil, nil, &store.FieldError{Field: "image", Message: "unreadable upload"}
	}
	return productForm(r.MultipartForm.Value), &service.ImageUpload{Filename: header.Filename, Body: file}, nil
}

func (f productForm) text(key string) (*string, bool) {
	values, ok := f[key]
	if !ok || len(values) == 0 {
		return nil, false
	}
	v := values[0]
	return &v, true
}

func (f productForm) updateRequest() (domain.ProductUpdateRequest, error) {
	var req domain.ProductUpdateRequest
	req.Name, _ = f.text("name")
	req.Description, _ = f.text("description")
	req.Category, _ = f.text("category")
	req.SKU, _ = f.text("sku")
	req.Barcode, _ = f.text("barcode")

	if raw, ok := f.text("price"); ok {
		price, err := decimal.NewFromString(strings.TrimSpace(*raw))
		if err != nil {
			return req, &store.FieldError{Field: "price", Message: "must be a number"}
		}
		req.Price = &price
	}
	if raw, ok := f.text("quantity"); ok {
		qty, err := strconv.Atoi(strings.TrimSpace(*raw))
		if err != nil {
			return req, &store.FieldError{Field: "quantity", Message: "must be an integer"}
		}
		req.Quantity = &qty
	}
	return req, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func createFromUpdate(u domain.ProductUpdateRequest) domain.ProductCreateRequest {
	return domain.ProductCreateRequest{
		Name:        deref(u.Name),
		Description: deref(u.Description),
		Price:       deref(u.Price),
		Quantity:    deref(u.Quantity),
		Category:    deref(u.Category),
		SKU:         deref(u.SKU),
		Barcode:     deref(u.Barcode),
	}
}
