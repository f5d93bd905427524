package http

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Lokesh-T-2506/AutoGrader/internal/config"
	"github.com/Lokesh-T-2506/AutoGrader/internal/services"
	"github.com/Lokesh-T-2506/AutoGrader/internal/storage"
)

type Server struct {
	engine *gin.Engine
	cfg    config.Config
}

func NewServer(cfg config.Config, log zerolog.Logger) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	fm, err := storage.NewFileManager(cfg.DataDir, cfg.MaxUploadBytes)
	if err != nil {
		return nil, fmt.Errorf("init file manager: %w", err)
	}

	store, err := storage.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	reasoner := services.NewGeminiReasoner(cfg, log)
	extractor := services.NewTesseractExtractor(cfg.OCRLanguages)
	gradingEngine := services.NewGradingEngine(reasoner, log)
	feedbackSvc := services.NewFeedbackSynthesizer(reasoner, log)
	orchestrator := services.NewOrchestrator(store, fm, extractor, gradingEngine, feedbackSvc, cfg.CallTimeout, log)
	reportSvc := services.NewReportService()
	shareSvc := services.NewShareService(cfg)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(log))
	engine.Use(MaxBodySize(cfg.MaxUploadBytes))
	engine.Use(CORS())

	api := NewAPI(cfg, fm, store, extractor, gradingEngine, feedbackSvc, orchestrator, reportSvc, shareSvc, log)
	registerRoutes(engine, api)

	return &Server{engine: engine, cfg: cfg}, nil
}

func (s *Server) Run() error {
	addr := fmt.Sprintf(":%s", s.cfg.Port)
	return s.engine.Run(addr)
}
