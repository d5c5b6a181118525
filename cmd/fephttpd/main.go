// Copyright 2024 The fe-php Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command fephttpd is a minimal net/http front end over the fephttp
// core. TLS termination, HTTP/2 framing, WAF/rate-limiting/CORS, and
// config file loading are all out of scope for the core (§1) and stay
// out of scope here too: this binary exists only so the Router,
// Dispatcher, and three backends are runnable end to end against a real
// TCP listener, the way caddy's cmd/caddy/main.go is a thin shell around
// caddy.Run/caddy.Load.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nzsys/fe-php/fephttp"
	"github.com/nzsys/fe-php/fephttp/config"
	"github.com/nzsys/fe-php/fephttp/fastcgi"
	"github.com/nzsys/fe-php/fephttp/fileserver"
	"github.com/nzsys/fe-php/fephttp/phpembed"
	"github.com/nzsys/fe-php/fephttp/router"
)

func main() {
	addr := flag.String("addr", ":8080", "address to listen on")
	staticRoot := flag.String("static-root", "./public", "static_files.root")
	fpmSocket := flag.String("fpm-socket", "127.0.0.1:9000", "fpm_socket")
	phpLibrary := flag.String("php-library", "", "php.library_path (empty disables the embedded backend)")
	defaultBackend := flag.String("default-backend", "fastcgi", "backend.default_backend")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := &config.Config{
		Router: config.RouterConfig{
			DefaultBackend: *defaultBackend,
			RoutingRules: []config.RuleConfig{
				{Pattern: config.PatternConfig{Type: "prefix", Value: "/static/"}, Backend: "static", Priority: 100},
				{Pattern: config.PatternConfig{Type: "suffix", Value: ".php"}, Backend: "fastcgi", Priority: 50},
			},
			StaticFiles: config.StaticFilesConfig{
				Root:       *staticRoot,
				IndexFiles: []string{"index.html", "index.php"},
			},
		},
		Pool: config.PoolConfig{
			FPMSocket:          *fpmSocket,
			MaxSize:            16,
			MaxIdleSecs:        60,
			MaxLifetimeSecs:    300,
			ConnectTimeoutSecs: 2,
			AcquireTimeoutSecs: 2,
			CircuitBreaker: config.CircuitBreakerConfig{
				Enable:              true,
				FailureThreshold:    5,
				SuccessThreshold:    2,
				TimeoutSeconds:      10,
				HalfOpenMaxRequests: 1,
			},
		},
		PHP: config.PHPConfig{
			LibraryPath:       *phpLibrary,
			DocumentRoot:      *staticRoot,
			WorkerPoolSize:    4,
			WorkerMaxRequests: 1000,
		},
	}

	if err := config.Validate(cfg); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	r, err := router.FromConfig(cfg.Router)
	if err != nil {
		log.Fatal("router construction failed", zap.Error(err))
	}

	backends := map[fephttp.BackendID]fephttp.Backend{
		fephttp.BackendStatic: fileserver.NewBackend(fileserver.Config{
			Root:       cfg.Router.StaticFiles.Root,
			IndexFiles: cfg.Router.StaticFiles.IndexFiles,
		}, log.Named("static")),
	}

	network, address := fastcgi.ParseAddress(cfg.Pool.FPMSocket)
	pool := fastcgi.NewPool(network, address, fastcgi.Config{
		MaxSize:        cfg.Pool.MaxSize,
		MaxIdle:        time.Duration(cfg.Pool.MaxIdleSecs) * time.Second,
		MaxLifetime:    time.Duration(cfg.Pool.MaxLifetimeSecs) * time.Second,
		ConnectTimeout: time.Duration(cfg.Pool.ConnectTimeoutSecs) * time.Second,
		AcquireTimeout: time.Duration(cfg.Pool.AcquireTimeoutSecs) * time.Second,
		Breaker: fastcgi.BreakerConfig{
			Enable:              cfg.Pool.CircuitBreaker.Enable,
			FailureThreshold:    cfg.Pool.CircuitBreaker.FailureThreshold,
			SuccessThreshold:    cfg.Pool.CircuitBreaker.SuccessThreshold,
			Timeout:             time.Duration(cfg.Pool.CircuitBreaker.TimeoutSeconds) * time.Second,
			HalfOpenMaxRequests: cfg.Pool.CircuitBreaker.HalfOpenMaxRequests,
		},
	}, log.Named("fastcgi"))
	backends[fephttp.BackendFastCGI] = fastcgi.NewBackend(pool, fastcgi.BackendConfig{
		DocumentRoot: cfg.PHP.DocumentRoot,
		IndexFiles:   cfg.Router.StaticFiles.IndexFiles,
		ServerName:   "fephttpd",
		ServerPort:   "80",
		ReadTimeout:  30 * time.Second,
		KeepConn:     true,
	})

	if cfg.PHP.LibraryPath != "" {
		engine := phpembed.NewEngine()
		workerPool := phpembed.NewWorkerPool(engine, phpembed.Config{
			WorkerPoolSize:    cfg.PHP.WorkerPoolSize,
			WorkerMaxRequests: cfg.PHP.WorkerMaxRequests,
			QueueSize:         64,
			LibraryPath:       cfg.PHP.LibraryPath,
			DocumentRoot:      cfg.PHP.DocumentRoot,
		}, log.Named("phpembed"))
		startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := workerPool.Start(startCtx); err != nil {
			log.Fatal("embedded php runtime failed to start", zap.Error(err))
		}
		backends[fephttp.BackendEmbedded] = phpembed.NewBackend(workerPool, phpembed.BackendConfig{
			DocumentRoot: cfg.PHP.DocumentRoot,
			IndexFiles:   cfg.Router.StaticFiles.IndexFiles,
			ServerName:   "fephttpd",
			ServerPort:   "80",
		})
	}

	dispatcher := fephttp.NewDispatcher(r, backends, log)

	srv := &http.Server{
		Addr:    *addr,
		Handler: &httpFrontend{dispatcher: dispatcher, log: log, maxBodySize: 32 << 20},
	}

	go func() {
		log.Info("listening", zap.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = dispatcher.Close(shutdownCtx)
}

// httpFrontend adapts net/http to the fephttp.Request/Response model
// (§6 "Inputs to the core"). Body size enforcement (PayloadTooLarge, §7)
// happens here, before the core ever sees the request, exactly as §3
// documents: "already enforced" by the HTTP layer.
type httpFrontend struct {
	dispatcher  *fephttp.Dispatcher
	log         *zap.Logger
	maxBodySize int64
}

func (h *httpFrontend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize+1))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if int64(len(body)) > h.maxBodySize {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	var headers fephttp.Headers
	for name, values := range r.Header {
		for _, v := range values {
			headers = headers.Add(name, v)
		}
	}

	req := &fephttp.Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.RawQuery,
		Headers:    headers,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		Scheme:     scheme,
	}

	resp, err := h.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		var be fephttp.BackendError
		status := http.StatusInternalServerError
		if errors.As(err, &be) {
			status = be.Status()
		}
		w.WriteHeader(status)
		return
	}

	for _, kv := range resp.Headers {
		w.Header().Add(kv.Name, kv.Value)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
