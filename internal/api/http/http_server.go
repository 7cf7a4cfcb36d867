package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/olyamironova/paper-engine/internal/api"
	"github.com/olyamironova/paper-engine/internal/api/dto"
	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/olyamironova/paper-engine/internal/middleware"
	"github.com/olyamironova/paper-engine/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServer struct {
	svc    api.Service
	log    *slog.Logger
	rl     *middleware.RateLimiter
	router *gin.Engine
	srv    *http.Server
}

// NewHTTPServer builds the router. rl may be nil for an unlimited limiter
// that still requires X-Client-ID.
func NewHTTPServer(svc api.Service, log *slog.Logger, rl *middleware.RateLimiter) *HTTPServer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if rl == nil {
		rl = middleware.NewRateLimiter(0, 1)
	}
	s := &HTTPServer{svc: svc, log: log, rl: rl}
	s.router = s.routes()
	s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	return s
}

func (s *HTTPServer) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(s.log))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	g := r.Group("/api/paper", s.rl.Middleware())
	g.POST("/orders", s.submitOrder)
	g.GET("/orders", s.listOrders)
	g.GET("/orders/:id", s.getOrder)
	g.DELETE("/orders/:id", s.cancelOrder)
	g.GET("/positions", s.getPositions)
	g.POST("/positions/prune", s.prunePositions)
	g.GET("/fills", s.getFills)
	g.GET("/account", s.getAccount)
	g.POST("/risk-check", s.checkRisk)
	g.POST("/bars/:symbol", s.processBar)
	return r
}

// Handler is the router, for tests and custom servers.
func (s *HTTPServer) Handler() http.Handler { return s.router }

// Run serves on addr until Shutdown is called.
func (s *HTTPServer) Run(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.log.Info("http server listening", "addr", lis.Addr().String())
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *HTTPServer) submitOrder(c *gin.Context) {
	var req dto.SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	o, err := s.svc.SubmitOrder(c.Request.Context(), middleware.ClientID(c), req.ToDomain())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.FromOrder(*o))
}

func (s *HTTPServer) listOrders(c *gin.Context) {
	activeOnly, err := queryBool(c, "active_only")
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	orders, err := s.svc.Orders(c.Request.Context(), middleware.ClientID(c), activeOnly)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromOrders(orders))
}

func (s *HTTPServer) getOrder(c *gin.Context) {
	o, err := s.svc.Order(c.Request.Context(), middleware.ClientID(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromOrder(o))
}

func (s *HTTPServer) cancelOrder(c *gin.Context) {
	o, err := s.svc.CancelOrder(c.Request.Context(), middleware.ClientID(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.CancelOrderResponse{Order: dto.FromOrder(o), Cancelled: true})
}

func (s *HTTPServer) getPositions(c *gin.Context) {
	positions, err := s.svc.Positions(c.Request.Context(), middleware.ClientID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromPositions(positions))
}

func (s *HTTPServer) prunePositions(c *gin.Context) {
	pruned, err := s.svc.PruneClosedPositions(c.Request.Context(), middleware.ClientID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if pruned == nil {
		pruned = []string{}
	}
	c.JSON(http.StatusOK, dto.PruneResponse{Pruned: pruned})
}

func (s *HTTPServer) getFills(c *gin.Context) {
	fills, err := s.svc.Fills(c.Request.Context(), middleware.ClientID(c), c.Query("symbol"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromFills(fills))
}

func (s *HTTPServer) getAccount(c *gin.Context) {
	a, err := s.svc.Account(c.Request.Context(), middleware.ClientID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromAccount(a))
}

func (s *HTTPServer) checkRisk(c *gin.Context) {
	var req dto.SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	res, err := s.svc.CheckRisk(c.Request.Context(), middleware.ClientID(c), req.ToDomain())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromRiskCheck(res))
}

// processBar applies the bar to the caller's account, or to every account
// when all=true.
func (s *HTTPServer) processBar(c *gin.Context) {
	var bar dto.Bar
	if err := c.ShouldBindJSON(&bar); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	all, err := queryBool(c, "all")
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	symbol := domain.NormalizeSymbol(c.Param("symbol"))

	if all {
		byAccount, err := s.svc.ProcessBarAll(c.Request.Context(), symbol, bar.ToDomain())
		if err != nil {
			s.writeError(c, err)
			return
		}
		out := make(map[string][]dto.Fill, len(byAccount))
		for id, fills := range byAccount {
			out[id] = dto.FromFills(fills)
		}
		c.JSON(http.StatusOK, dto.BroadcastBarResponse{Symbol: symbol, Fills: out})
		return
	}

	fills, err := s.svc.ProcessBar(c.Request.Context(), middleware.ClientID(c), symbol, bar.ToDomain())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ProcessBarResponse{Symbol: symbol, Fills: dto.FromFills(fills)})
}

func (s *HTTPServer) writeError(c *gin.Context, err error) {
	var rej *domain.RejectionError
	switch {
	case errors.As(err, &rej):
		c.JSON(http.StatusUnprocessableEntity, dto.ErrorResponse{
			Error:      err.Error(),
			Violations: dto.FromViolations(rej.Check.Violations),
		})
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidBar),
		errors.Is(err, service.ErrNoAccount):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrOrderClosed):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
	default:
		s.log.Error("request failed", "path", c.FullPath(), "err", err)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
	}
}

func queryBool(c *gin.Context, key string) (bool, error) {
	v := c.Query(key)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
