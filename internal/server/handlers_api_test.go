package server

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"print-marketplace/internal/database"
	"print-marketplace/internal/logging"
	"print-marketplace/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAdmin(t *testing.T, env *testEnv) {
	t.Helper()
	require.NoError(t, database.NewService(logging.NewNopLogger()).Seed(context.Background(), env.db))
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	seedAdmin(t, env)

	rec := env.doJSON(t, http.MethodPost, "/api/login", credentials{Username: "admin", Password: "123456"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")

	var body struct {
		User models.PublicUser `json:"user"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, int64(database.DefaultAdminID), body.User.ID)
	assert.Equal(t, models.RoleAdmin, body.User.Role)

	tests := []struct {
		name  string
		creds credentials
		want  int
	}{
		{name: "wrong password", creds: credentials{Username: "admin", Password: "nope"}, want: http.StatusUnauthorized},
		{name: "unknown user", creds: credentials{Username: "ghost", Password: "123456"}, want: http.StatusUnauthorized},
		{name: "missing password", creds: credentials{Username: "admin"}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.doJSON(t, http.MethodPost, "/api/login", tt.creds)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec = env.do(t, http.MethodPost, "/api/login", strings.NewReader("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/api/register", map[string]string{
		"username": "maker", "password": "pa55", "role": "admin",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	user, err := env.store.FindUserByUsername(context.Background(), "maker")
	require.NoError(t, err)
	assert.Equal(t, models.RoleBuyer, user.Role, "self-registration always creates buyers")
	assert.NotEqual(t, "pa55", user.Password)
	require.NotNil(t, user.InitialUsername)
	assert.Equal(t, "maker", *user.InitialUsername)

	rec = env.doJSON(t, http.MethodPost, "/api/register", credentials{Username: "maker", Password: "other"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already taken")

	rec = env.doJSON(t, http.MethodPost, "/api/login", credentials{Username: "maker", Password: "pa55"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListUsers(t *testing.T) {
	env := newTestEnv(t)
	seedAdmin(t, env)
	require.NoError(t, env.store.CreateUser(context.Background(), &models.User{Username: "printer", Password: "x", Role: models.RoleExecutor}))

	rec := env.do(t, http.MethodGet, "/api/users?role_filter=executor", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var users []models.PublicUser
	decodeBody(t, rec, &users)
	require.Len(t, users, 1)
	assert.Equal(t, "printer", users[0].Username)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = env.do(t, http.MethodGet, "/api/users?search=adm", nil, "")
	decodeBody(t, rec, &users)
	require.Len(t, users, 1)
	assert.Equal(t, "admin", users[0].Username)
}

func TestProducts(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/api/products", map[string]interface{}{
		"name":          "Owl",
		"description":   "Desk owl",
		"price_options": []map[string]interface{}{{"scale": "1:10", "price": 300}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Success bool                   `json:"success"`
		Product map[string]interface{} `json:"product"`
	}
	decodeBody(t, rec, &created)
	assert.True(t, created.Success)
	assert.Equal(t, float64(1), created.Product["parts_count"])
	assert.Equal(t, true, created.Product["is_visible"])

	rec = env.doJSON(t, http.MethodPost, "/api/products", map[string]interface{}{
		"name": "Hidden", "price_options": "[]", "is_visible": false,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.doJSON(t, http.MethodPost, "/api/products", map[string]interface{}{"name": "No price"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.doJSON(t, http.MethodPost, "/api/products", map[string]interface{}{"name": "Bad", "price_options": "{"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/products", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var visible []map[string]interface{}
	decodeBody(t, rec, &visible)
	require.Len(t, visible, 1)
	assert.Equal(t, "Owl", visible[0]["name"])
	assert.Equal(t, []interface{}{map[string]interface{}{"scale": "1:10", "price": float64(300)}}, visible[0]["price_options"])
	assert.Equal(t, []interface{}{}, visible[0]["additional_images"])

	rec = env.do(t, http.MethodGet, "/api/products?admin=true", nil, "")
	var all []map[string]interface{}
	decodeBody(t, rec, &all)
	assert.Len(t, all, 2)

	rec = env.do(t, http.MethodGet, "/api/products?search=desk&filter=description", nil, "")
	var found []map[string]interface{}
	decodeBody(t, rec, &found)
	require.Len(t, found, 1)
	assert.Equal(t, "Owl", found[0]["name"])
}

type formFile struct {
	field, name, contentType string
	content                  []byte
}

func buildProductForm(t *testing.T, fields map[string]string, files ...formFile) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.name))
		header.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCreateProductWithImages(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := buildProductForm(t, map[string]string{
		"name":            "Dragon",
		"description":     "Resin kit",
		"original_height": "12.5",
		"parts_count":     "3",
		"price_options":   `[{"scale":"1:10","price":1500}]`,
	},
		formFile{"main_image", "dragon.png", "image/png", []byte("main-bytes")},
		formFile{"additional_images", "side.jpg", "image/jpeg", []byte("side-bytes")},
		formFile{"additional_images", "back.jpg", "image/jpeg", []byte("back-bytes")},
	)
	rec := env.do(t, http.MethodPost, "/api/products", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Product struct {
			Name             string   `json:"name"`
			MainImage        string   `json:"main_image"`
			AdditionalImages []string `json:"additional_images"`
			OriginalHeight   float64  `json:"original_height"`
			PartsCount       int      `json:"parts_count"`
			IsVisible        bool     `json:"is_visible"`
		} `json:"product"`
	}
	decodeBody(t, rec, &created)
	assert.Equal(t, "Dragon", created.Product.Name)
	assert.Equal(t, 12.5, created.Product.OriginalHeight)
	assert.Equal(t, 3, created.Product.PartsCount)
	assert.True(t, created.Product.IsVisible)
	assert.True(t, strings.HasPrefix(created.Product.MainImage, "/uploads/"))
	assert.True(t, strings.HasSuffix(created.Product.MainImage, "-dragon.png"))
	require.Len(t, created.Product.AdditionalImages, 2)

	rec = env.do(t, http.MethodGet, created.Product.MainImage, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "main-bytes", rec.Body.String())

	rec = env.do(t, http.MethodGet, created.Product.AdditionalImages[1], nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "back-bytes", rec.Body.String())

	entries, err := os.ReadDir(env.config.ImageDir())
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	products, err := env.store.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.NotNil(t, products[0].MainImage)
	assert.Equal(t, created.Product.MainImage, *products[0].MainImage)
}

func TestCreateProductFormRejections(t *testing.T) {
	env := newTestEnv(t)
	png := func(field string) formFile { return formFile{field, "a.png", "image/png", []byte("x")} }
	priced := map[string]string{"name": "Owl", "price_options": "[]"}

	cases := []struct {
		name   string
		fields map[string]string
		files  []formFile
		status int
	}{
		{"non-image part", priced, []formFile{{"main_image", "notes.txt", "text/plain", []byte("x")}}, http.StatusBadRequest},
		{"two main images", priced, []formFile{png("main_image"), png("main_image")}, http.StatusBadRequest},
		{"five additional images", priced, []formFile{
			png("additional_images"), png("additional_images"), png("additional_images"),
			png("additional_images"), png("additional_images"),
		}, http.StatusBadRequest},
		{"missing price options", map[string]string{"name": "Owl"}, []formFile{png("main_image")}, http.StatusBadRequest},
		{"bad price options", map[string]string{"name": "Owl", "price_options": "{"}, nil, http.StatusBadRequest},
		{"bad height", map[string]string{"name": "Owl", "price_options": "[]", "original_height": "tall"}, nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, contentType := buildProductForm(t, tc.fields, tc.files...)
			rec := env.do(t, http.MethodPost, "/api/products", body, contentType)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}

	entries, err := os.ReadDir(env.config.ImageDir())
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected forms leave no images behind")

	products, err := env.store.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestUploadsServeOnlyImages(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.config.UploadDir, "pending-backup.json"), []byte("{}"), 0o600))

	for _, path := range []string{"/uploads/pending-backup.json", "/uploads/"} {
		rec := env.do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestOrders(t *testing.T) {
	env := newTestEnv(t)

	invalid := []map[string]interface{}{
		{"user_id": 2, "products": []int{}, "total_price": 10},
		{"user_id": 2, "total_price": 10},
		{"products": []int{1}, "total_price": 10},
		{"user_id": 2, "products": []int{1}, "total_price": 0},
		{"user_id": 2, "products": []int{1}},
	}
	for _, payload := range invalid {
		rec := env.doJSON(t, http.MethodPost, "/api/orders", payload)
		assert.Equal(t, http.StatusBadRequest, rec.Code, payload)
	}

	rec := env.doJSON(t, http.MethodPost, "/api/orders", map[string]interface{}{
		"user_id": 2, "products": []map[string]int{{"id": 1, "qty": 2}}, "total_price": 600, "status": "done",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Order map[string]interface{} `json:"order"`
	}
	decodeBody(t, rec, &created)
	assert.Equal(t, models.DefaultOrderStatus, created.Order["status"], "clients cannot pick the status")
	assert.Equal(t, "", created.Order["notes"])
	assert.Equal(t, []interface{}{}, created.Order["assigned_executors"])

	rec = env.doJSON(t, http.MethodPost, "/api/orders", map[string]interface{}{
		"user_id": 3, "products": []int{1}, "total_price": 50,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var orders []map[string]interface{}
	rec = env.do(t, http.MethodGet, "/api/orders?user_id=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &orders)
	require.Len(t, orders, 1)
	assert.Equal(t, []interface{}{map[string]interface{}{"id": float64(1), "qty": float64(2)}}, orders[0]["products"])

	rec = env.do(t, http.MethodGet, "/api/orders?admin=1", nil, "")
	decodeBody(t, rec, &orders)
	assert.Len(t, orders, 2)

	rec = env.do(t, http.MethodGet, "/api/orders?user_id=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/settings", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var settings models.Settings
	decodeBody(t, rec, &settings)
	assert.Equal(t, models.DefaultPriceCoefficient, *settings.PriceCoefficient)
	assert.Equal(t, "[]", settings.DiscountRules.Raw)

	rec = env.doJSON(t, http.MethodPut, "/api/settings", map[string]interface{}{
		"payment_info":              "Card 0000",
		"price_coefficient":         6,
		"discount_rules":            []map[string]int{{"min": 1000, "percent": 5}},
		"show_discount_on_products": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := env.store.GetOrCreateSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, settings.ID, stored.ID)
	assert.Equal(t, "Card 0000", *stored.PaymentInfo)
	assert.Equal(t, 6.0, *stored.PriceCoefficient)
	assert.Equal(t, `[{"min":1000,"percent":5}]`, stored.DiscountRules.Raw)
	assert.True(t, stored.ShowDiscountOnProducts)

	rec = env.doJSON(t, http.MethodPut, "/api/settings", map[string]interface{}{"price_coefficient": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
