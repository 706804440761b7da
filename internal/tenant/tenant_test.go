package tenant

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tenant := &Tenant{
		ID:        "ten_1",
		Name:      "Acme Corp",
		Slug:      "acme",
		Status:    StatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	// Create
	err := store.Create(ctx, tenant)
	require.NoError(t, err)

	// Get by ID
	got, err := store.Get(ctx, "ten_1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name)

	// Get by slug
	got, err = store.GetBySlug(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "ten_1", got.ID)

	// Update
	got.Name = "Acme Inc"
	err = store.Update(ctx, got)
	require.NoError(t, err)

	got2, _ := store.Get(ctx, "ten_1")
	assert.Equal(t, "Acme Inc", got2.Name)
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrTenantNotFound)

	_, err = store.GetBySlug(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrTenantNotFound)

	err = store.Update(ctx, &Tenant{ID: "nonexistent"})
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestMemoryStore_DuplicateSlug(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.Create(ctx, &Tenant{ID: "ten_1", Slug: "acme"})
	err := store.Create(ctx, &Tenant{ID: "ten_2", Slug: "acme"})
	assert.ErrorIs(t, err, ErrSlugTaken)
}

func TestMemoryStore_CopyOnRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.Create(ctx, &Tenant{ID: "ten_1", Slug: "acme", Name: "Acme"})

	got, _ := store.Get(ctx, "ten_1")
	got.Name = "Mutated"

	got2, _ := store.Get(ctx, "ten_1")
	assert.Equal(t, "Acme", got2.Name)
}

func TestContext_RoundTrip(t *testing.T) {
	ctx := WithID(context.Background(), "ten_42")
	assert.Equal(t, "ten_42", FromContext(ctx))

	id, err := RequireID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ten_42", id)
}

func TestContext_Missing(t *testing.T) {
	assert.Equal(t, "", FromContext(context.Background()))

	_, err := RequireID(context.Background())
	assert.ErrorIs(t, err, ErrNoTenant)
}

func TestMiddleware_Header(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := NewMemoryStore()

	var seen string
	r := gin.New()
	r.Use(Middleware(store))
	r.GET("/", func(c *gin.Context) {
		seen = FromContext(c.Request.Context())
		c.Status(200)
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderName, "ten_7")
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "ten_7", seen)
}

func TestMiddleware_SubdomainFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := NewMemoryStore()
	_ = store.Create(context.Background(), &Tenant{ID: "ten_acme", Slug: "acme"})

	var seen string
	r := gin.New()
	r.Use(Middleware(store))
	r.GET("/", func(c *gin.Context) {
		seen = FromContext(c.Request.Context())
		c.Status(200)
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Host = "acme.api.example.com:8080"
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "ten_acme", seen)
}

func TestMiddleware_NoTenantPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := NewMemoryStore()

	var seen string
	r := gin.New()
	r.Use(Middleware(store))
	r.GET("/", func(c *gin.Context) {
		seen = FromContext(c.Request.Context())
		c.Status(200)
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Host = "localhost:8080"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "", seen)
}
