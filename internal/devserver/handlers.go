package devserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vonshlovens/tripsync/internal/api"
)

const (
	claimsKey      = "claims"
	maxPhotoSize   = 32 << 20
	photoFormField = "file"
)

// Router builds the HTTP API served under /api/v1
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.MaxMultipartMemory = maxPhotoSize

	v1 := r.Group("/api/v1")
	v1.POST("/tokens", s.createToken)

	authed := v1.Group("")
	authed.Use(s.requireToken)
	authed.GET("/users/me", s.readUser)
	authed.POST("/sync", s.sync)
	authed.POST("/photos/:id", s.uploadPhoto)
	authed.GET("/photos/:id", s.downloadPhoto)

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_s", time.Since(start).Seconds())
	}
}

func abort(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

// IssueToken signs an access token for username
func (s *Server) IssueToken(username string) (string, error) {
	u, ok := s.lookupUser(username)
	if !ok {
		return "", ErrUnknownUser
	}

	now := s.now()
	claims := jwt.MapClaims{
		"sub":      u.id.String(),
		"username": u.username,
		"iat":      now.Unix(),
		"exp":      now.Add(s.tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) createToken(c *gin.Context) {
	var form api.TokenForm
	if err := c.ShouldBindJSON(&form); err != nil {
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if _, err := s.authenticate(form.Username, form.Password); err != nil {
		abort(c, http.StatusUnauthorized, err.Error())
		return
	}

	token, err := s.IssueToken(form.Username)
	if err != nil {
		abort(c, http.StatusInternalServerError, "failed to sign token")
		return
	}
	c.JSON(http.StatusCreated, api.TokenDetail{AccessToken: token})
}

// requireToken verifies the bearer token and stores its claims
func (s *Server) requireToken(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		abort(c, http.StatusUnauthorized, "missing or invalid Authorization header")
		return
	}

	token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		abort(c, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		abort(c, http.StatusUnauthorized, "could not parse token claims")
		return
	}
	c.Set(claimsKey, claims)
	c.Next()
}

func (s *Server) readUser(c *gin.Context) {
	claims := c.MustGet(claimsKey).(jwt.MapClaims)
	username, _ := claims["username"].(string)

	u, ok := s.lookupUser(username)
	if !ok {
		abort(c, http.StatusUnauthorized, "user no longer exists")
		return
	}
	c.JSON(http.StatusOK, api.UserDetail{
		ID:        u.id.String(),
		Username:  u.username,
		CreatedAt: api.NewTimestamp(u.createdAt),
		UpdatedAt: api.NewTimestamp(u.createdAt),
	})
}

func (s *Server) sync(c *gin.Context) {
	var req api.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := api.Validate(&req); err != nil {
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp := s.ApplySync(&req)
	slog.Info("sync applied",
		"pushed", len(req.Trips)+len(req.Records)+len(req.Photos),
		"returned", len(resp.Trips)+len(resp.Records)+len(resp.Photos))
	c.JSON(http.StatusOK, resp)
}

func photoID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abort(c, http.StatusUnprocessableEntity, "invalid photo id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) uploadPhoto(c *gin.Context) {
	id, ok := photoID(c)
	if !ok {
		return
	}

	header, err := c.FormFile(photoFormField)
	if err != nil {
		abort(c, http.StatusUnprocessableEntity, "missing file")
		return
	}
	if header.Size > maxPhotoSize {
		abort(c, http.StatusRequestEntityTooLarge, "photo too large")
		return
	}

	f, err := header.Open()
	if err != nil {
		abort(c, http.StatusBadRequest, "failed to read file")
		return
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		abort(c, http.StatusBadRequest, "failed to read file")
		return
	}

	mime := header.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(content)
	}

	detail, err := s.StorePhoto(id, content, mime)
	switch {
	case errors.Is(err, ErrUnknownPhoto):
		abort(c, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, ErrChecksumMismatch):
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		abort(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) downloadPhoto(c *gin.Context) {
	id, ok := photoID(c)
	if !ok {
		return
	}

	content, mime, err := s.Photo(id)
	if err != nil {
		abort(c, http.StatusNotFound, err.Error())
		return
	}
	c.Data(http.StatusOK, mime, content)
}
