package tests

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// fakeBackend is an in-memory rendition of the invoice service: opaque
// rotating token pairs, multipart upload, and invoices that advance
// uploaded → processing → completed one step per read.
type fakeBackend struct {
	mu sync.Mutex

	tokenSeq     int
	accessToken  string
	refreshToken string
	accessValid  bool
	refreshCalls int
	refreshDelay time.Duration

	invoices map[string]*invoiceRec
}

type invoiceRec struct {
	id        string
	filename  string
	mimeType  string
	size      int
	status    string
	reads     int
	extracted map[string]any
	parasutID string
	created   time.Time
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{invoices: make(map[string]*invoiceRec)}
}

func (b *fakeBackend) issueTokens() (string, string) {
	b.tokenSeq++
	b.accessToken = fmt.Sprintf("access-%d", b.tokenSeq)
	b.refreshToken = fmt.Sprintf("refresh-%d", b.tokenSeq)
	b.accessValid = true
	return b.accessToken, b.refreshToken
}

// expireAccess invalidates the current access token so the next
// authenticated request answers 401.
func (b *fakeBackend) expireAccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessValid = false
}

// revokeRefresh makes the next refresh attempt fail.
func (b *fakeBackend) revokeRefresh() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessValid = false
	b.refreshToken = ""
}

func (b *fakeBackend) refreshCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshCalls
}

func (b *fakeBackend) authorized(c *gin.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accessValid && c.GetHeader("Authorization") == "Bearer "+b.accessToken
}

func (b *fakeBackend) requireAuth(c *gin.Context) {
	if !b.authorized(c) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
	}
}

func (b *fakeBackend) invoiceJSON(rec *invoiceRec) gin.H {
	extracted := rec.extracted
	if rec.status != "completed" && rec.status != "exported" {
		extracted = nil
	}
	return gin.H{
		"id":                  rec.id,
		"user_id":             "user-1",
		"original_filename":   rec.filename,
		"file_path":           "invoices/user-1/" + rec.id,
		"file_size":           rec.size,
		"mime_type":           rec.mimeType,
		"status":              rec.status,
		"extracted_data":      extracted,
		"exported_to_parasut": rec.status == "exported",
		"parasut_invoice_id":  rec.parasutID,
		"created_at":          rec.created.UTC().Format(time.RFC3339),
		"updated_at":          time.Now().UTC().Format(time.RFC3339),
	}
}

func (b *fakeBackend) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	r.POST("/api/v1/auth/login", func(c *gin.Context) {
		var creds map[string]string
		if err := c.ShouldBindJSON(&creds); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if creds["email"] != "test@example.com" || creds["password"] != "Sifre1234" {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Incorrect email or password"})
			return
		}
		b.mu.Lock()
		access, refresh := b.issueTokens()
		b.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{
			"access_token":  access,
			"refresh_token": refresh,
			"token_type":    "bearer",
			"expires_in":    1800,
		})
	})

	r.POST("/api/v1/auth/refresh", func(c *gin.Context) {
		var body map[string]string
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		b.mu.Lock()
		delay := b.refreshDelay
		b.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		b.refreshCalls++
		if b.refreshToken == "" || body["refresh_token"] != b.refreshToken {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid refresh token"})
			return
		}
		access, refresh := b.issueTokens()
		c.JSON(http.StatusOK, gin.H{
			"access_token":  access,
			"refresh_token": refresh,
			"token_type":    "bearer",
			"expires_in":    1800,
		})
	})

	authed := r.Group("/", b.requireAuth)

	authed.GET("/api/v1/auth/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"id":                "user-1",
			"email":             "test@example.com",
			"subscription_plan": "free",
			"is_active":         true,
			"created_at":        time.Now().UTC().Format(time.RFC3339),
		})
	})

	authed.POST("/api/v1/invoices/upload", func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		rec := &invoiceRec{
			id:       uuid.NewString(),
			filename: file.Filename,
			mimeType: file.Header.Get("Content-Type"),
			size:     int(file.Size),
			status:   "uploaded",
			extracted: map[string]any{
				"vendor":       "ACME Ltd",
				"subtotal":     100.0,
				"tax_amount":   20.0,
				"total_amount": 120.0,
			},
			created: time.Now(),
		}
		b.mu.Lock()
		b.invoices[rec.id] = rec
		b.mu.Unlock()
		c.JSON(http.StatusCreated, b.invoiceJSON(rec))
	})

	authed.GET("/api/v1/invoices", func(c *gin.Context) {
		b.mu.Lock()
		defer b.mu.Unlock()
		items := make([]gin.H, 0, len(b.invoices))
		for _, rec := range b.invoices {
			items = append(items, b.invoiceJSON(rec))
		}
		c.JSON(http.StatusOK, gin.H{
			"items":    items,
			"total":    len(items),
			"has_next": false,
		})
	})

	authed.GET("/api/v1/invoices/:id", func(c *gin.Context) {
		b.mu.Lock()
		defer b.mu.Unlock()
		rec, ok := b.invoices[c.Param("id")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Fatura bulunamadı"})
			return
		}
		// One processing step per read so pollers see the progression.
		rec.reads++
		switch {
		case rec.status == "uploaded":
			rec.status = "processing"
		case rec.status == "processing" && rec.reads >= 2:
			rec.status = "completed"
		}
		c.JSON(http.StatusOK, b.invoiceJSON(rec))
	})

	authed.PUT("/api/v1/invoices/:id", func(c *gin.Context) {
		var update struct {
			ExtractedData json.RawMessage `json:"extracted_data"`
			Status        string          `json:"status"`
		}
		if err := c.ShouldBindJSON(&update); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		rec, ok := b.invoices[c.Param("id")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Fatura bulunamadı"})
			return
		}
		if rec.status == "exported" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Dışa aktarılmış faturalar düzenlenemez"})
			return
		}
		if len(update.ExtractedData) > 0 {
			var fields map[string]any
			if err := json.Unmarshal(update.ExtractedData, &fields); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
				return
			}
			if rec.extracted == nil {
				rec.extracted = make(map[string]any)
			}
			for k, v := range fields {
				rec.extracted[k] = v
			}
		}
		if update.Status != "" {
			rec.status = update.Status
		}
		c.JSON(http.StatusOK, b.invoiceJSON(rec))
	})

	authed.DELETE("/api/v1/invoices/:id", func(c *gin.Context) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.invoices[c.Param("id")]; !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Fatura bulunamadı"})
			return
		}
		delete(b.invoices, c.Param("id"))
		c.Status(http.StatusNoContent)
	})

	authed.POST("/api/v1/invoices/:id/export", func(c *gin.Context) {
		b.mu.Lock()
		defer b.mu.Unlock()
		rec, ok := b.invoices[c.Param("id")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Fatura bulunamadı"})
			return
		}
		if rec.status != "completed" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Sadece tamamlanmış faturalar dışa aktarılabilir"})
			return
		}
		rec.status = "exported"
		rec.parasutID = "prst-" + rec.id[:8]
		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"message":     "Fatura başarıyla Paraşüt'e aktarıldı",
			"parasut_id":  rec.parasutID,
			"parasut_url": "https://uygulama.parasut.com/faturalar/" + rec.parasutID,
			"exported_at": time.Now().UTC().Format(time.RFC3339),
		})
	})

	return r
}

func startTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Skipf("httptest server unavailable: %v", r)
			}
		}()
		srv = httptest.NewServer(handler)
	}()
	t.Cleanup(srv.Close)
	return srv
}
