// Package httpview is the read-only HTTP introspection surface: the
// ambient "operators want to curl something" debug endpoint every
// teacher service ships next to its real RPC layer. It never mutates
// state — the Admin socket (internal/qubesd/admin) remains the only
// write path.
package httpview

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/qubesd/qubesd/internal/qubesd/app"
)

// View wraps a gin.Engine the same way the teacher's api.API wraps one:
// constructed once with its dependencies, exposing Run/Shutdown/Name for
// grace.Shepherd.
type View struct {
	engine *gin.Engine
	server *http.Server
	app    *app.Application
}

// New builds the debug surface bound to addr (e.g. "127.0.0.1:8081").
func New(a *app.Application, addr string) *View {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.Default()

	v := &View{engine: engine, app: a}
	engine.GET("/healthz", v.healthz)
	engine.GET("/debug/domains", v.domains)
	engine.GET("/debug/pools", v.pools)

	v.server = &http.Server{Addr: addr, Handler: engine}
	return v
}

func (v *View) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (v *View) domains(c *gin.Context) {
	type domainView struct {
		QID   int    `json:"qid"`
		Name  string `json:"name"`
		Class string `json:"class"`
		State string `json:"state"`
	}
	out := make([]domainView, 0)
	for _, d := range v.app.Domains.List() {
		out = append(out, domainView{QID: d.QID, Name: d.Name, Class: string(d.Variant), State: string(d.State())})
	}
	c.JSON(http.StatusOK, out)
}

func (v *View) pools(c *gin.Context) {
	type poolView struct {
		Name   string `json:"name"`
		Driver string `json:"driver"`
	}
	out := make([]poolView, 0)
	for _, name := range v.app.Pools.List() {
		p, err := v.app.Pools.Get(name)
		if err != nil {
			continue
		}
		out = append(out, poolView{Name: p.Name, Driver: p.DriverName})
	}
	c.JSON(http.StatusOK, out)
}

// Run implements grace.Grace.
func (v *View) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := v.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown implements grace.Grace.
func (v *View) Shutdown(ctx context.Context) error { return v.server.Shutdown(ctx) }

// Name implements grace.Grace.
func (v *View) Name() string { return "Debug HTTP View" }
