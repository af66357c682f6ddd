// Package debugapi is a small read-only HTTP surface over a kvfs.FS,
// grounded on the teacher's rest_api package: gin.Engine plus
// handler-closures-over-store (rest_api/main/sample_app.go) and the
// swag-annotated handler style (rest_api/rest_main.go), restricted here
// to GET routes since this surface is for operating and inspecting an
// image, not mutating one. This is not the host filesystem bridge
// spec.md's Non-goals exclude: no OS syscalls are translated, only
// stat/enum/statfs results packed as JSON.
package debugapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	jwtverifier "github.com/okta/okta-jwt-verifier-golang"

	"github.com/jeffdarcy/kvfs/engine"
	"github.com/jeffdarcy/kvfs/hostsurface"
	"github.com/jeffdarcy/kvfs/inode"
)

// OktaConfig enables bearer-token verification in front of every route
// when Issuer is non-empty, mirroring rest_api/rest_main.go's verify().
// Left zero-valued, the surface is open — suitable for a local operator
// workstation, not a shared deployment.
type OktaConfig struct {
	Issuer   string
	Audience string
	ClientID string
}

// NewRouter builds a gin.Engine exposing /stat, /enum and /statfs over
// fs, rooted at fs.Root(). auth, if non-nil and auth.Issuer is set,
// requires a valid Okta bearer token on every route.
func NewRouter(fs *engine.FS, auth *OktaConfig) *gin.Engine {
	router := gin.Default()

	guard := func(h gin.HandlerFunc) gin.HandlerFunc {
		if auth == nil || auth.Issuer == "" {
			return h
		}
		return func(c *gin.Context) {
			if requireOktaToken(c, *auth) {
				h(c)
			}
		}
	}

	router.GET("/stat", guard(statHandler(fs)))
	router.GET("/enum", guard(enumHandler(fs)))
	router.GET("/statfs", guard(statfsHandler(fs)))
	return router
}

// requireOktaToken verifies the Authorization: Bearer header against
// auth's issuer/audience, writing a 401/403 and returning false on
// failure, matching rest_api/rest_main.go's verify().
func requireOktaToken(c *gin.Context, auth OktaConfig) bool {
	token := c.Request.Header.Get("Authorization")
	if !strings.HasPrefix(token, "Bearer ") {
		c.String(http.StatusUnauthorized, "Unauthorized")
		return false
	}
	token = strings.TrimPrefix(token, "Bearer ")

	verifierSetup := jwtverifier.JwtVerifier{
		Issuer: auth.Issuer,
		ClaimsToValidate: map[string]string{
			"aud": auth.Audience,
			"cid": auth.ClientID,
		},
	}
	if _, err := verifierSetup.New().VerifyAccessToken(token); err != nil {
		c.String(http.StatusForbidden, err.Error())
		return false
	}
	return true
}

// statHandler godoc
// @Summary stat resolves a path from the image root and returns its attributes.
// @Schemes
// @Description Looks up the ?path= query parameter via the directory engine's path resolver and returns the resolved inode's attributes as JSON, or 404 if any path component is missing.
// @Tags kvfs
// @Produce json
// @Param path query string true "slash-separated path, relative to the image root"
// @Success 200 {object} hostsurface.Attr
// @Failure 404 {object} map[string]any
// @Router /stat [get]
// @Security Bearer
func statHandler(fs *engine.FS) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := c.Query("path")
		ptr, err := fs.Lookup(c.Request.Context(), fs.Root(), p)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
			return
		}
		if ptr.IsNil() {
			c.JSON(http.StatusNotFound, gin.H{"message": "no such path"})
			return
		}
		data, _, err := fs.Store.Get(c.Request.Context(), ptr)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
			return
		}
		// Only the fixed-size header is needed for /stat, so it is read
		// directly rather than via inode.Split/dir's own splitter, which
		// differ on total image size between file and directory inodes.
		h, err := inode.UnmarshalHeader(data)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, hostsurface.ToAttr(h))
	}
}

// enumHandler godoc
// @Summary enum lists one page of a directory's entries from a resumable cursor.
// @Schemes
// @Description Looks up ?path=, then calls the directory engine's Enum from ?cursor= (default 0), returning the page of entries plus the cursor to pass next and whether enumeration is done.
// @Tags kvfs
// @Produce json
// @Param path query string true "directory path, relative to the image root"
// @Param cursor query int false "resume cursor from a previous call"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /enum [get]
// @Security Bearer
func enumHandler(fs *engine.FS) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := c.Query("path")
		cursor, _ := strconv.ParseUint(c.DefaultQuery("cursor", "0"), 10, 64)

		ptr, err := fs.Lookup(c.Request.Context(), fs.Root(), p)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
			return
		}
		if ptr.IsNil() {
			c.JSON(http.StatusNotFound, gin.H{"message": "no such path"})
			return
		}
		entries, next, done, err := hostsurface.Enum(c.Request.Context(), fs, ptr, cursor)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries, "next_cursor": next, "done": done})
	}
}

// statfsHandler godoc
// @Summary statfs reports the image's fixed layout constants.
// @Schemes
// @Description Returns block size, pointer size, inode and directory bucket layout constants for this build of kvfs. Read-only reporting; no quota enforcement (spec.md Non-goals).
// @Tags kvfs
// @Produce json
// @Success 200 {object} hostsurface.Statfs
// @Router /statfs [get]
// @Security Bearer
func statfsHandler(fs *engine.FS) gin.HandlerFunc {
	return func(c *gin.Context) {
		sfs := hostsurface.NewStatfs()
		c.JSON(http.StatusOK, gin.H{
			"statfs":    sfs,
			"auto_mkfs": hostsurface.AutoMkfs(fs.Store),
		})
	}
}
