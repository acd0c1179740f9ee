// Package httpgw 把HTTP请求转换成发往从机的请求，并提供管理页面。
package httpgw

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"

	"github.com/junbin-yang/casan-go/pkg/casan/coap"
	"github.com/junbin-yang/casan-go/pkg/casan/engine"
	log "github.com/junbin-yang/casan-go/pkg/utils/logger"
)

const (
	DEFAULT_REQUEST_TIMEOUT = 5 * time.Second
	DEFAULT_CACHE_CLEAN     = 5 * time.Second

	maxRequestBodyBytes = 64 << 10
)

// Gateway HTTP层需要的引擎能力
type Gateway interface {
	NewRequest(sid int64, code coap.Code, path []string, payload []byte, opts ...coap.Option) (*engine.Msg, error)
	Request(m *engine.Msg, timeout time.Duration) (*engine.Msg, error)
	ResourceListText() string
	Status() engine.Status
	SlaveInfo(sid int64) (engine.SlaveInfo, bool)
}

// Namespaces 各功能挂载的URL前缀
type Namespaces struct {
	Admin     string
	Casan     string
	WellKnown string
}

func DefaultNamespaces() Namespaces {
	return Namespaces{Admin: "/admin", Casan: "/casan", WellKnown: "/.well-known/casan"}
}

type Options struct {
	Namespaces     Namespaces
	RequestTimeout time.Duration
	CacheClean     time.Duration
	Clock          clockwork.Clock
	// ConfText 配置页面显示的文本
	ConfText func() string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func DefaultOptions() Options {
	return Options{
		Namespaces:     DefaultNamespaces(),
		RequestTimeout: DEFAULT_REQUEST_TIMEOUT,
		CacheClean:     DEFAULT_CACHE_CLEAN,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
	}
}

// Server HTTP网关
type Server struct {
	gw    Gateway
	cache *engine.Cache
	opts  Options
	mux   *http.ServeMux

	handler http.Handler
	mu      sync.Mutex
	servers []*http.Server
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewServer(gw Gateway, cache *engine.Cache, opts Options) *Server {
	def := DefaultOptions()
	if opts.Namespaces == (Namespaces{}) {
		opts.Namespaces = def.Namespaces
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}
	if opts.CacheClean <= 0 {
		opts.CacheClean = def.CacheClean
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	opts.Namespaces.Admin = strings.TrimRight(opts.Namespaces.Admin, "/")
	opts.Namespaces.Casan = strings.TrimRight(opts.Namespaces.Casan, "/")
	if cache == nil {
		cache = engine.NewCache(opts.Clock)
	}
	s := &Server{
		gw:    gw,
		cache: cache,
		opts:  opts,
		mux:   http.NewServeMux(),
		stop:  make(chan struct{}),
	}
	s.registerRoutes()
	s.handler = recoveryMiddleware(loggingMiddleware(s.mux))
	return s
}

// Handler 根处理器，测试时配合httptest使用
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Cache() *engine.Cache {
	return s.cache
}

// Start 在每个地址上监听并启动缓存清理协程
func (s *Server) Start(addrs []string) error {
	for _, addr := range addrs {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.Shutdown(context.Background())
			return err
		}
		srv := &http.Server{
			Handler:      s.handler,
			ReadTimeout:  s.opts.ReadTimeout,
			WriteTimeout: s.opts.WriteTimeout,
			IdleTimeout:  s.opts.IdleTimeout,
		}
		s.mu.Lock()
		s.servers = append(s.servers, srv)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			log.Infof("[HTTP] listening on %s", ln.Addr())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("[HTTP] server %s: %v", ln.Addr(), err)
			}
		}()
	}
	s.StartCleaner()
	return nil
}

// StartCleaner 周期性删除过期的缓存条目
func (s *Server) StartCleaner() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := s.opts.Clock.NewTicker(s.opts.CacheClean)
		defer t.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-t.Chan():
				s.cache.Clean()
			}
		}
	}()
}

// Shutdown 优雅关闭所有监听
func (s *Server) Shutdown(ctx context.Context) error {
	var errs error
	s.once.Do(func() {
		close(s.stop)
		s.mu.Lock()
		servers := s.servers
		s.mu.Unlock()
		for _, srv := range servers {
			errs = multierr.Append(errs, srv.Shutdown(ctx))
		}
		s.wg.Wait()
		log.Info("[HTTP] server stopped")
	})
	return errs
}

// responseWriter 记录状态码用于日志
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Infof("[HTTP] %s %s %d %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorf("[HTTP] panic: %v\n%s", rec, debug.Stack())
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
