// Package pprof mounts net/http/pprof under a gin route group.
package pprof

import (
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

const DefaultPrefix = "/debug/pprof"

// Rates are the runtime sampling knobs. Zero leaves the Go default.
type Rates struct {
	MutexProfileFraction int
	BlockProfileRate     int
}

func ApplyRates(r Rates) {
	if r.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(r.MutexProfileFraction)
	}
	if r.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(r.BlockProfileRate)
	}
}

// Mount registers the profile endpoints under prefix. guard runs before
// every handler; the routes must never be exposed without one.
func Mount(r gin.IRouter, prefix string, guard gin.HandlerFunc) {
	prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "/" {
		prefix = DefaultPrefix
	}
	g := r.Group(prefix, guard)
	g.GET("/", gin.WrapF(indexAt(prefix)))
	g.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
	g.GET("/profile", gin.WrapF(hpprof.Profile))
	g.GET("/symbol", gin.WrapF(hpprof.Symbol))
	g.POST("/symbol", gin.WrapF(hpprof.Symbol))
	g.GET("/trace", gin.WrapF(hpprof.Trace))
	g.GET("/:name", func(c *gin.Context) {
		hpprof.Handler(c.Param("name")).ServeHTTP(c.Writer, c.Request)
	})
}

// hpprof.Index assumes requests are rooted at /debug/pprof/.
func indexAt(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, prefix), "/")
		hpprof.Index(w, r2)
	}
}
