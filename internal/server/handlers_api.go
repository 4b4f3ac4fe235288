package server

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"print-marketplace/internal/errors"
	"print-marketplace/internal/logging"
	"print-marketplace/internal/models"
	"print-marketplace/internal/store"

	"golang.org/x/crypto/bcrypt"
)

// maxJSONBody bounds plain JSON request bodies
const maxJSONBody = 1 << 20

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// productView is a product with its list columns decoded
type productView struct {
	models.Product
	AdditionalImages []interface{} `json:"additional_images"`
	PriceOptions     []interface{} `json:"price_options"`
}

// orderView is an order with its list columns decoded
type orderView struct {
	models.Order
	Products          []interface{} `json:"products"`
	AssignedExecutors []interface{} `json:"assigned_executors"`
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v)
	if err == nil {
		return true
	}
	switch {
	case isTooLarge(err):
		s.respondError(w, r, http.StatusRequestEntityTooLarge, "request body is too large")
	case stderrors.Is(err, io.EOF):
		s.respondError(w, r, http.StatusBadRequest, "request body is required")
	default:
		s.respondError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return false
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		s.respondError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.deps.Store.FindUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.GetErrorType(err) == errors.ErrorTypeNotFound {
			s.respondError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.respondAppError(w, r, err, "login failed")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		s.respondError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.logger.WithContext(r.Context()).WithField("username", user.Username).Info("User logged in")
	s.respondJSON(w, r, http.StatusOK, map[string]interface{}{"user": user.Public()})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decodeJSON(w, r, &req) {
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		s.respondError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	_, err := s.deps.Store.FindUserByUsername(r.Context(), username)
	switch {
	case err == nil:
		s.respondError(w, r, http.StatusBadRequest, "username is already taken")
		return
	case errors.GetErrorType(err) != errors.ErrorTypeNotFound:
		s.respondAppError(w, r, err, "registration failed")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.respondAppError(w, r, err, "registration failed")
		return
	}
	user := &models.User{
		Username:        username,
		Password:        string(hash),
		Role:            models.RoleBuyer,
		InitialUsername: &username,
	}
	if err := s.deps.Store.CreateUser(r.Context(), user); err != nil {
		s.respondAppError(w, r, err, "registration failed")
		return
	}

	s.logger.WithContext(r.Context()).WithField("username", username).Info("User registered")
	s.respondJSON(w, r, http.StatusCreated, map[string]interface{}{
		"message": "user registered",
		"user":    user.Public(),
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := s.deps.Store.ListPublicUsers(r.Context(), store.UserFilter{
		Search: q.Get("search"),
		Role:   q.Get("role_filter"),
	})
	if err != nil {
		s.respondAppError(w, r, err, "failed to load users")
		return
	}
	s.respondJSON(w, r, http.StatusOK, users)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	products, err := s.deps.Store.SearchProducts(r.Context(), store.ProductFilter{
		Search:        q.Get("search"),
		Field:         q.Get("filter"),
		IncludeHidden: flag(q.Get("admin")),
	})
	if err != nil {
		s.respondAppError(w, r, err, "failed to load products")
		return
	}

	views := make([]productView, 0, len(products))
	for _, p := range products {
		views = append(views, productView{
			Product:          p,
			AdditionalImages: s.items(r, p.AdditionalImages, "product", p.ID),
			PriceOptions:     s.items(r, p.PriceOptions, "product", p.ID),
		})
	}
	s.respondJSON(w, r, http.StatusOK, views)
}

// maxAdditionalImages bounds the additional_images parts of a product form
const maxAdditionalImages = 4

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var (
		product models.Product
		form    *productForm
	)
	if isMultipartRequest(r) {
		var ok bool
		if form, ok = s.parseProductForm(w, r); !ok {
			return
		}
		defer r.MultipartForm.RemoveAll()
		product = form.product
	} else if !s.decodeJSON(w, r, &product) {
		return
	}

	if strings.TrimSpace(product.Name) == "" || !product.PriceOptions.Valid {
		s.respondError(w, r, http.StatusBadRequest, "name and price_options are required")
		return
	}
	if _, err := product.PriceOptions.Items(); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "price_options must be a JSON list")
		return
	}
	if product.PartsCount <= 0 {
		product.PartsCount = 1
	}
	product.ID = 0
	product.CreatedDate = time.Time{}
	product.UpdatedDate = time.Time{}

	var saved []string
	if form != nil {
		var err error
		if saved, err = s.storeProductImages(&product, form); err != nil {
			s.logger.WithContext(r.Context()).WithError(err).Error("Failed to store product images")
			s.respondError(w, r, http.StatusInternalServerError, "failed to store product images")
			return
		}
	}

	if err := s.deps.Store.CreateProduct(r.Context(), &product); err != nil {
		removeFiles(saved)
		s.respondAppError(w, r, err, "failed to create product")
		return
	}

	s.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
		"product_id": product.ID,
		"images":     len(saved),
	}).Info("Product created")
	s.respondJSON(w, r, http.StatusCreated, map[string]interface{}{
		"success": true,
		"product": productView{
			Product:          product,
			AdditionalImages: s.items(r, product.AdditionalImages, "product", product.ID),
			PriceOptions:     s.items(r, product.PriceOptions, "product", product.ID),
		},
	})
}

// productForm is a multipart product submission before its images are stored
type productForm struct {
	product    models.Product
	mainImage  *multipart.FileHeader
	additional []*multipart.FileHeader
}

// parseProductForm reads the fields and image parts of a multipart product
// form. On success r.MultipartForm is set and the caller removes it.
func (s *Server) parseProductForm(w http.ResponseWriter, r *http.Request) (*productForm, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if isTooLarge(err) {
			s.respondError(w, r, http.StatusRequestEntityTooLarge, "upload is too large")
			return nil, false
		}
		s.respondError(w, r, http.StatusBadRequest, "invalid multipart form")
		return nil, false
	}
	reject := func(status int, message string) (*productForm, bool) {
		r.MultipartForm.RemoveAll()
		s.respondError(w, r, status, message)
		return nil, false
	}

	files := r.MultipartForm.File
	if len(files["main_image"]) > 1 || len(files["additional_images"]) > maxAdditionalImages {
		return reject(http.StatusBadRequest, "at most one main_image and 4 additional_images are accepted")
	}
	for _, header := range append(append([]*multipart.FileHeader{}, files["main_image"]...), files["additional_images"]...) {
		if header.Size > s.config.MaxUploadSize {
			return reject(http.StatusRequestEntityTooLarge, "image is too large")
		}
		if !isImageUpload(header) {
			return reject(http.StatusBadRequest, "only image files are accepted")
		}
	}

	form := &productForm{additional: files["additional_images"]}
	if len(files["main_image"]) == 1 {
		form.mainImage = files["main_image"][0]
	}

	p := &form.product
	p.Name = r.FormValue("name")
	p.RelatedName = optionalString(r.FormValue("related_name"))
	p.Description = optionalString(r.FormValue("description"))
	p.IsVisible = true

	for field, dst := range map[string]**float64{
		"original_height": &p.OriginalHeight,
		"original_width":  &p.OriginalWidth,
		"original_length": &p.OriginalLength,
	} {
		raw := strings.TrimSpace(r.FormValue(field))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return reject(http.StatusBadRequest, field+" must be a number")
		}
		*dst = &v
	}
	if raw := strings.TrimSpace(r.FormValue("parts_count")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return reject(http.StatusBadRequest, "parts_count must be an integer")
		}
		p.PartsCount = n
	}
	if raw := strings.TrimSpace(r.FormValue("is_visible")); raw != "" {
		visible, err := strconv.ParseBool(raw)
		if err != nil {
			return reject(http.StatusBadRequest, "is_visible must be a boolean")
		}
		p.IsVisible = visible
	}
	if raw := strings.TrimSpace(r.FormValue("price_options")); raw != "" {
		var options interface{}
		if err := json.Unmarshal([]byte(raw), &options); err != nil {
			return reject(http.StatusBadRequest, "price_options must be a JSON list")
		}
		list, err := models.NewJSONList(options)
		if err != nil {
			return reject(http.StatusBadRequest, "price_options must be a JSON list")
		}
		p.PriceOptions = list
	}
	return form, true
}

// storeProductImages saves the form's images and points the product at their
// URLs. It returns the stored paths; on error nothing is left behind.
func (s *Server) storeProductImages(product *models.Product, form *productForm) ([]string, error) {
	var saved []string
	save := func(header *multipart.FileHeader) (string, error) {
		src, err := header.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open %s: %w", header.Filename, err)
		}
		defer src.Close()
		path, err := s.saveUpload(s.config.ImageDir(), src, header.Filename)
		if err != nil {
			return "", err
		}
		saved = append(saved, path)
		return imageURLPrefix + filepath.Base(path), nil
	}

	if form.mainImage != nil {
		url, err := save(form.mainImage)
		if err != nil {
			removeFiles(saved)
			return nil, err
		}
		product.MainImage = &url
	}
	urls := make([]string, 0, len(form.additional))
	for _, header := range form.additional {
		url, err := save(header)
		if err != nil {
			removeFiles(saved)
			return nil, err
		}
		urls = append(urls, url)
	}
	list, err := models.NewJSONList(urls)
	if err != nil {
		removeFiles(saved)
		return nil, err
	}
	product.AdditionalImages = list
	return saved, nil
}

func isMultipartRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

func optionalString(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

func removeFiles(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.OrderFilter{
		All:        flag(q.Get("admin")),
		ExecutorID: q.Get("executor_id"),
		Search:     q.Get("search"),
		Status:     q.Get("status"),
	}
	if raw := q.Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.respondError(w, r, http.StatusBadRequest, "user_id must be an integer")
			return
		}
		filter.UserID = id
	}

	orders, err := s.deps.Store.SearchOrders(r.Context(), filter)
	if err != nil {
		s.respondAppError(w, r, err, "failed to load orders")
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, s.orderView(r, o))
	}
	s.respondJSON(w, r, http.StatusOK, views)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var order models.Order
	if !s.decodeJSON(w, r, &order) {
		return
	}

	items, err := order.Products.Items()
	if order.UserID <= 0 || !order.Products.Valid || err != nil || len(items) == 0 {
		s.respondError(w, r, http.StatusBadRequest, "an order needs a user_id and at least one product")
		return
	}
	if order.TotalPrice == nil || *order.TotalPrice <= 0 {
		s.respondError(w, r, http.StatusBadRequest, "total_price must be positive")
		return
	}
	if order.Notes == nil {
		empty := ""
		order.Notes = &empty
	}
	order.ID = 0
	order.Status = ""
	order.AdminNotes = nil
	order.AssignedExecutors = models.EmptyJSONList()
	order.CreatedDate = time.Time{}
	order.UpdatedDate = time.Time{}

	if err := s.deps.Store.CreateOrder(r.Context(), &order); err != nil {
		s.respondAppError(w, r, err, "failed to create order")
		return
	}

	s.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
		"order_id": order.ID,
		"user_id":  order.UserID,
	}).Info("Order created")
	s.respondJSON(w, r, http.StatusCreated, map[string]interface{}{
		"success": true,
		"order":   s.orderView(r, order),
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Store.GetOrCreateSettings(r.Context())
	if err != nil {
		s.respondAppError(w, r, err, "failed to load settings")
		return
	}
	s.respondJSON(w, r, http.StatusOK, settings)
}

// handleUpdateSettings replaces the settings row with the request body
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var update models.Settings
	if !s.decodeJSON(w, r, &update) {
		return
	}
	if update.PriceCoefficient != nil && *update.PriceCoefficient <= 0 {
		s.respondError(w, r, http.StatusBadRequest, "price_coefficient must be positive")
		return
	}
	if !update.DiscountRules.Valid {
		update.DiscountRules = models.EmptyJSONList()
	} else if _, err := update.DiscountRules.Items(); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "discount_rules must be a JSON list")
		return
	}

	current, err := s.deps.Store.GetOrCreateSettings(r.Context())
	if err != nil {
		s.respondAppError(w, r, err, "failed to load settings")
		return
	}
	update.ID = current.ID
	if err := s.deps.Store.UpdateSettings(r.Context(), update); err != nil {
		s.respondAppError(w, r, err, "failed to update settings")
		return
	}
	s.respondJSON(w, r, http.StatusOK, update)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, r, http.StatusOK, map[string]interface{}{
		"message":    "logging is operational",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"uptime":     time.Since(s.started).Seconds(),
		"version":    s.deps.Version,
		"log_level":  string(s.logger.GetLevel()),
		"request_id": logging.GetRequestIDFromContext(r.Context()),
	})
}

func (s *Server) orderView(r *http.Request, o models.Order) orderView {
	return orderView{
		Order:             o,
		Products:          s.items(r, o.Products, "order", o.ID),
		AssignedExecutors: s.items(r, o.AssignedExecutors, "order", o.ID),
	}
}

// items decodes a list column for a response. Unreadable stored text is
// logged and rendered as an empty list.
func (s *Server) items(r *http.Request, list models.JSONList, entity string, id int64) []interface{} {
	items, err := list.Items()
	if err != nil {
		s.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
			"entity": entity,
			"id":     id,
			"error":  err.Error(),
		}).Warn("Stored list column is not valid JSON")
		return []interface{}{}
	}
	return items
}

// flag reads a boolean query parameter. Any non-empty value other than an
// explicit false counts as set.
func flag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}
