// Package status serves a small read-only HTTP view of the running bot:
// liveness, poll loop state, recent notifications and supervised goroutines.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"hwbot/internal/notifier"
	"hwbot/internal/poller"
	rtsup "hwbot/internal/runtime/supervisor"
	logx "hwbot/pkg/logx"
)

type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

const DefaultAddr = "127.0.0.1:8085"

// Sources are the components the server reports on. Nil members are
// omitted from the payload.
type Sources struct {
	Poll       interface{ Snapshot() poller.Status }
	Notifier   NotifierView
	Supervisor interface{ Snapshot() rtsup.Snapshot }
}

type NotifierView interface {
	Stats() notifier.Stats
	Snapshot() []notifier.HistoryItem
}

type Server struct {
	cfg     Config
	src     Sources
	log     logx.Logger
	started time.Time
	engine  *gin.Engine
}

func New(cfg Config, src Sources, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{cfg: cfg, src: src, log: log, started: time.Now()}
	s.engine = s.routes()
	return s
}

// SetSupervisor adds the supervisor to the payload. Call it before Run.
func (s *Server) SetSupervisor(sup interface{ Snapshot() rtsup.Snapshot }) {
	s.src.Supervisor = sup
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog(), bearerAuth(s.cfg.Token))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.payload(time.Now()))
	})

	if s.cfg.Pprof {
		pp := r.Group("/debug/pprof")
		pp.GET("/", gin.WrapF(hpprof.Index))
		pp.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
		pp.GET("/profile", gin.WrapF(hpprof.Profile))
		pp.GET("/symbol", gin.WrapF(hpprof.Symbol))
		pp.POST("/symbol", gin.WrapF(hpprof.Symbol))
		pp.GET("/trace", gin.WrapF(hpprof.Trace))
		for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
			pp.GET("/"+name, gin.WrapH(hpprof.Handler(name)))
		}
	}
	return r
}

type pollView struct {
	poller.Status
	LastPollAgo string `json:"last_poll_ago,omitempty"`
	NextPollIn  string `json:"next_poll_in,omitempty"`
}

type notifierView struct {
	notifier.Stats
	LastSentAgo string                 `json:"last_sent_ago,omitempty"`
	History     []notifier.HistoryItem `json:"history"`
}

type Payload struct {
	StartedAt  time.Time       `json:"started_at"`
	Uptime     string          `json:"uptime"`
	Poll       *pollView       `json:"poll,omitempty"`
	Notifier   *notifierView   `json:"notifier,omitempty"`
	Supervisor *rtsup.Snapshot `json:"supervisor,omitempty"`
}

func (s *Server) payload(now time.Time) Payload {
	p := Payload{
		StartedAt: s.started,
		Uptime:    strings.TrimSuffix(humanize.RelTime(s.started, now, "", ""), " "),
	}
	if s.src.Poll != nil {
		st := s.src.Poll.Snapshot()
		v := &pollView{Status: st}
		if !st.LastIterationAt.IsZero() {
			v.LastPollAgo = humanize.RelTime(st.LastIterationAt, now, "ago", "from now")
		}
		if !st.NextPollAt.IsZero() {
			v.NextPollIn = humanize.RelTime(st.NextPollAt, now, "ago", "from now")
		}
		p.Poll = v
	}
	if s.src.Notifier != nil {
		hist := s.src.Notifier.Snapshot()
		v := &notifierView{Stats: s.src.Notifier.Stats(), History: hist}
		if n := len(hist); n > 0 {
			v.LastSentAgo = humanize.RelTime(hist[n-1].At, now, "ago", "from now")
		}
		p.Notifier = v
	}
	if s.src.Supervisor != nil {
		snap := s.src.Supervisor.Snapshot()
		p.Supervisor = &snap
	}
	return p
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("status request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

// bearerAuth accepts either "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables the check.
func bearerAuth(token string) gin.HandlerFunc {
	tok := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		if got := c.Query("token"); got != "" {
			if got == tok {
				c.Next()
				return
			}
		} else if ah := c.GetHeader("Authorization"); strings.HasPrefix(ah, "Bearer ") &&
			strings.TrimSpace(strings.TrimPrefix(ah, "Bearer ")) == tok {
			c.Next()
			return
		}
		c.Header("WWW-Authenticate", "Bearer")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

// Run listens and serves until ctx is done. It returns nil after a clean
// shutdown so a restarting supervisor does not bring it back.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr
	if !s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Error("status server refused to start: non-loopback addr requires token or allow_insecure",
			logx.String("addr", addr),
		)
		return errors.New("status server refused to start: insecure bind")
	}
	if s.cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("status server running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("status server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", s.cfg.Token != ""),
		logx.Bool("pprof", s.cfg.Pprof),
	)
	err := srv.Serve(ln)
	if ctx.Err() != nil {
		<-stopped
		s.log.Info("status server stopped")
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("status server exited unexpectedly")
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
